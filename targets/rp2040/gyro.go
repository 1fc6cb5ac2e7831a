//go:build rp2040

package main

import (
	"machine"

	"github.com/chewxy/math32"
	"tinygo.org/x/drivers/lsm6ds3tr"

	"gopilot/core"
)

// microdegrees per second to radians per second
const udpsToRad = math32.Pi / 180 / 1e6

// Gyro feeds on-board LSM6DS3TR body rates into the attitude loop
type Gyro struct {
	dev    *lsm6ds3tr.Device
	errors uint32
}

// NewGyro configures the IMU on I2C0. It returns nil if no IMU answers, in
// which case the host-supplied rates are used.
func NewGyro() *Gyro {
	bus := machine.I2C0
	if err := bus.Configure(machine.I2CConfig{
		Frequency: 400 * machine.KHz,
	}); err != nil {
		core.DebugPrintln("[gyro] i2c: " + err.Error())
		return nil
	}

	dev := lsm6ds3tr.New(bus)
	if !dev.Connected() {
		core.DebugPrintln("[gyro] no LSM6DS3TR found")
		return nil
	}
	err := dev.Configure(lsm6ds3tr.Configuration{
		AccelRange:      lsm6ds3tr.ACCEL_8G,
		AccelSampleRate: lsm6ds3tr.ACCEL_SR_833,
		GyroRange:       lsm6ds3tr.GYRO_2000DPS,
		GyroSampleRate:  lsm6ds3tr.GYRO_SR_833,
	})
	if err != nil {
		core.DebugPrintln("[gyro] configure: " + err.Error())
		return nil
	}

	core.RegisterConstant("GYRO", "lsm6ds3tr")
	return &Gyro{dev: dev}
}

// ReadRates returns roll, pitch and yaw rates in rad/s. A failed read
// reports ok=false and the loop keeps the last host-supplied rates.
func (g *Gyro) ReadRates() (roll, pitch, yaw float32, ok bool) {
	x, y, z, err := g.dev.ReadRotation()
	if err != nil {
		g.errors++
		return 0, 0, 0, false
	}
	return float32(x) * udpsToRad, float32(y) * udpsToRad, float32(z) * udpsToRad, true
}
