// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"regexp"

	"github.com/eclipse/paho.golang/paho"
)

// MQTT strings must not contain control characters, surrogates, or
// non-characters [MQTT-1.5.4-1]. Note that [\x80-\x9F] cannot be expressed
// as a byte range in a Go regexp; \x7F is the best we can do for C1.
var invalidMQTTStringRunes = regexp.MustCompile(
	`[\x00-\x1F]|[\x7F-\x9F]|[\x{D800}-\x{DFFF}]|` +
		`[\x{FDD0}-\x{FDEF}]|[\x{FFFE}-\x{FFFF}]`,
)

// mqttString replaces characters invalid in an MQTT string with a space.
func mqttString(input string) string {
	return invalidMQTTStringRunes.ReplaceAllString(input, " ")
}

// mapToUserProperties converts a map[string]string to Paho user properties.
func mapToUserProperties(m map[string]string) paho.UserProperties {
	ups := make(paho.UserProperties, 0, len(m))
	for key, value := range m {
		ups = append(ups, paho.UserProperty{
			Key:   mqttString(key),
			Value: mqttString(value),
		})
	}
	return ups
}

// userPropertiesToMap converts Paho user properties to a map[string]string.
func userPropertiesToMap(ups paho.UserProperties) map[string]string {
	m := make(map[string]string, len(ups))
	for _, prop := range ups {
		m[prop.Key] = prop.Value
	}
	return m
}
