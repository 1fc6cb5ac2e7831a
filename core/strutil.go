package core

import "strconv"

func itoa(n int) string {
	return strconv.Itoa(n)
}

func utoa(n uint32) string {
	return strconv.FormatUint(uint64(n), 10)
}

func utoa64(n uint64) string {
	return strconv.FormatUint(n, 10)
}

// ftoa formats with the fewest digits that read back as the same float32
func ftoa(f float32) string {
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}

// valueToString renders a dictionary constant
func valueToString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "1"
		}
		return "0"
	case int:
		return itoa(val)
	case int32:
		return itoa(int(val))
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint32:
		return utoa(val)
	case uint64:
		return utoa64(val)
	case float32:
		return ftoa(val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return ""
	}
}
