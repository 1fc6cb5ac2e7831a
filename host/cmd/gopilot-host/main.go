package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"

	"gopilot/flight"
	"gopilot/flight/config"
	"gopilot/host/fc"
	"gopilot/host/serial"
)

var (
	device     = flag.String("device", "/dev/ttyACM0", "Serial device path")
	baud       = flag.Int("baud", serial.DefaultBaud, "Baud rate (ignored for USB CDC)")
	configPath = flag.String("config", "", "Controller configuration JSON pushed by 'push'")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		glog.Exitf("load config: %v", err)
	}

	client := fc.NewClient()
	serialCfg := serial.DefaultConfig(*device)
	serialCfg.Baud = *baud

	fmt.Printf("Connecting to flight controller on %s...\n", *device)
	if err := client.ConnectWithConfig(serialCfg); err != nil {
		glog.Exitf("connect: %v", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			glog.Errorf("close: %v", err)
		}
	}()

	if err := client.RetrieveDictionary(); err != nil {
		glog.Exitf("retrieve dictionary: %v", err)
	}
	printDictionary(client.Dictionary())

	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		if parts[0] == "quit" || parts[0] == "exit" || parts[0] == "q" {
			return
		}
		if err := run(client, cfg, parts[0], parts[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}

	if err := scanner.Err(); err != nil {
		glog.Errorf("read input: %v", err)
	}
}

func loadConfig(path string) (*flight.ControllerConfig, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return config.LoadConfig(data)
}

func run(client *fc.Client, cfg *flight.ControllerConfig, cmd string, args []string) error {
	switch cmd {
	case "help", "?":
		printHelp()
		return nil

	case "dict":
		printDictionary(client.Dictionary())
		return nil

	case "params":
		params, err := client.ListParams()
		if err != nil {
			return err
		}
		for _, p := range params {
			fmt.Printf("  [%d] %-6s = %g\n", p.Index, p.Name, p.Value)
		}
		return nil

	case "get":
		if len(args) != 1 {
			return fmt.Errorf("usage: get <name>")
		}
		v, err := client.GetParam(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("  %s = %g\n", args[0], v)
		return nil

	case "set":
		if len(args) != 2 {
			return fmt.Errorf("usage: set <name> <value>")
		}
		v, err := parseFloats(args[1:])
		if err != nil {
			return err
		}
		return client.SetParam(args[0], v[0])

	case "push":
		if err := client.PushConfig(cfg); err != nil {
			return err
		}
		fmt.Printf("Configuration pushed (crc %08x)\n", fc.ConfigCRC(cfg))
		return nil

	case "sp":
		v, err := parseFloats(args)
		if err != nil || len(v) != 4 {
			return fmt.Errorf("usage: sp <roll> <pitch> <yaw> <thrust>")
		}
		return client.SendSetpoint(flight.AttitudeSetpoint{RollBody: v[0], PitchBody: v[1], YawBody: v[2], Thrust: v[3]})

	case "state":
		v, err := parseFloats(args)
		if err != nil || len(v) != 6 {
			return fmt.Errorf("usage: state <roll> <pitch> <yaw> <rollspeed> <pitchspeed> <yawspeed>")
		}
		return client.SendState(flight.AttitudeState{
			Roll: v[0], Pitch: v[1], Yaw: v[2],
			RollSpeed: v[3], PitchSpeed: v[4], YawSpeed: v[5],
		})

	case "mode":
		if len(args) < 1 || len(args) > 2 {
			return fmt.Errorf("usage: mode <control_yaw 0|1> [reset_integral 0|1]")
		}
		controlYaw, err := strconv.ParseBool(args[0])
		if err != nil {
			return err
		}
		reset := false
		if len(args) == 2 {
			if reset, err = strconv.ParseBool(args[1]); err != nil {
				return err
			}
		}
		return client.SetMode(controlYaw, reset)

	case "start":
		var period uint64
		if len(args) == 1 {
			var err error
			if period, err = strconv.ParseUint(args[0], 10, 32); err != nil {
				return err
			}
		}
		return client.StartLoop(uint32(period))

	case "stop":
		return client.StopLoop()

	case "estop":
		return client.EmergencyStop()

	case "status":
		status, err := client.QueryStatus()
		if err != nil {
			return err
		}
		cfgState, err := client.QueryConfig()
		if err != nil {
			return err
		}
		fmt.Printf("  running=%v cycles=%d refreshes=%d configured=%v crc=%08x shutdown=%v\n",
			status.Running, status.Cycles, status.Refreshes, cfgState.Configured, cfgState.CRC, cfgState.Shutdown)
		return nil

	case "watch":
		count := 10
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			count = n
		}
		for i := 0; i < count; i++ {
			r, err := client.NextRates(time.Second)
			if err != nil {
				return err
			}
			fmt.Printf("  t=%d roll=%+.4f pitch=%+.4f yaw=%+.4f thrust=%.3f\n", r.Timestamp, r.Roll, r.Pitch, r.Yaw, r.Thrust)
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q (type 'help' for available commands)", cmd)
	}
}

func parseFloats(args []string) ([]float32, error) {
	out := make([]float32, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(v)
	}
	return out, nil
}

func printHelp() {
	fmt.Println("\nAvailable commands:")
	fmt.Println("  params                  - List tuning parameters")
	fmt.Println("  get <name>              - Read a parameter")
	fmt.Println("  set <name> <value>      - Change a parameter")
	fmt.Println("  push                    - Push the -config gains and finalize")
	fmt.Println("  sp <r> <p> <y> <thrust> - Send an attitude setpoint (rad)")
	fmt.Println("  state <r> <p> <y> <rs> <ps> <ys> - Send the measured attitude")
	fmt.Println("  mode <yaw> [reset]      - Yaw position control, integral reset")
	fmt.Println("  start [period_us]       - Start the attitude loop")
	fmt.Println("  stop                    - Stop the attitude loop")
	fmt.Println("  estop                   - Emergency stop")
	fmt.Println("  status                  - Loop and configuration status")
	fmt.Println("  watch [n]               - Print the next n rate setpoints")
	fmt.Println("  dict                    - Print dictionary summary")
	fmt.Println("  quit/exit/q             - Exit the program")
	fmt.Println()
}

func printDictionary(dict *fc.Dictionary) {
	if dict == nil {
		fmt.Println("No dictionary loaded")
		return
	}

	fmt.Println("\n=== Flight Controller ===")
	fmt.Printf("Version: %s\n", dict.Version)
	fmt.Printf("Build: %s\n", dict.BuildVersions)

	fmt.Println("\nConfig:")
	keys := make([]string, 0, len(dict.Config))
	for k := range dict.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s = %s\n", k, dict.Config[k])
	}

	fmt.Printf("\nCommands: %d, responses: %d\n", len(dict.Commands), len(dict.Responses))
	fmt.Println("=========================")
	fmt.Println()
}
