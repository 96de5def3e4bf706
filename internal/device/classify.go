package device

import "strings"

// Category codes observed in Tuya cloud exports, grouped by behaviour.
// The cloud uses short pinyin-derived codes; the hub only needs to know
// which control model each code follows.
var (
	switchCategories = map[string]bool{
		"cz":   true, // socket
		"kg":   true, // wall switch
		"cl":   true, // curtain
		"qjdt": true, // curtain switch
		"dc":   true, // string lights controller
		"dd":   true, // light strip controller
		"fs":   true, // fan
		"ws":   true, // water valve
		"qt":   true, // other switchable
	}

	sensorCategories = map[string]bool{
		"hjjcy": true, // air quality
		"wsdcg": true, // temperature and humidity
		"pir":   true, // motion
		"mcs":   true, // contact
		"ywbj":  true, // smoke
		"door":  true, // door sensor
		"sgl":   true, // lock accessory
		"ms":    true, // lock
	}
)

// Classify derives a device Class from the cloud category code and the
// channel mapping roles. The first rule that matches wins: a "switch"
// role in the mapping beats everything else, so a dimmable bulb whose
// only role is "switch_led" still controls like a switch.
func Classify(category string, mapping map[string]string) Class {
	roles := strings.ToLower(strings.Join(mappingRoles(mapping), " "))
	cat := strings.ToLower(category)

	switch {
	case strings.Contains(roles, "switch"):
		return ClassSwitch

	case strings.Contains(roles, "led"),
		strings.Contains(roles, "light"),
		strings.Contains(roles, "colour"),
		strings.Contains(cat, "dj"):
		return ClassLight

	case switchCategories[cat]:
		return ClassSwitch

	case sensorCategories[cat]:
		return ClassSensor

	case strings.Contains(cat, "wg"):
		return ClassGateway

	case strings.Contains(cat, "infrared"),
		strings.Contains(cat, "wnykq"):
		return ClassIRRemote

	default:
		// Unknown devices are treated as read-only until proven otherwise.
		return ClassSensor
	}
}

// mappingRoles returns the role strings from a channel mapping.
func mappingRoles(mapping map[string]string) []string {
	if len(mapping) == 0 {
		return nil
	}
	roles := make([]string, 0, len(mapping))
	for _, role := range mapping {
		roles = append(roles, role)
	}
	return roles
}
