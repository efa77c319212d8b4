/*
smailer - Relay of telephony events to email.
Copyright © 2019-2020 Max Mazurov <fox.cpp@disroot.org>, Maddy Mail Server contributors
Copyright © 2024 smailer contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package config

import (
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	unixEnvvarRe   = regexp.MustCompile(`{env:([^\$]+?)}`)
	unixEnvSplitRe = regexp.MustCompile(`^{env_split:([^\$]+)}$`)
)

func buildEnvMap() map[string]string {
	env := os.Environ()
	envMap := make(map[string]string, len(env))
	for _, entry := range env {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}
	return envMap
}

// expandEnvironment replaces {env:NAME} in scalar values with the variable
// value (empty if unset). A sequence item consisting of {env_split:NAME} is
// replaced with the comma-separated items of the variable.
func expandEnvironment(node *yaml.Node, envMap map[string]string) {
	switch node.Kind {
	case yaml.ScalarNode:
		node.Value = unixEnvvarRe.ReplaceAllStringFunc(node.Value, func(m string) string {
			return envMap[unixEnvvarRe.FindStringSubmatch(m)[1]]
		})
	case yaml.SequenceNode:
		newContent := make([]*yaml.Node, 0, len(node.Content))
		for _, child := range node.Content {
			if splitArgs, ok := handleEnvSplit(child, envMap); ok {
				newContent = append(newContent, splitArgs...)
				continue
			}
			expandEnvironment(child, envMap)
			newContent = append(newContent, child)
		}
		node.Content = newContent
	default:
		for _, child := range node.Content {
			expandEnvironment(child, envMap)
		}
	}
}

func handleEnvSplit(node *yaml.Node, envMap map[string]string) ([]*yaml.Node, bool) {
	if node.Kind != yaml.ScalarNode {
		return nil, false
	}
	matches := unixEnvSplitRe.FindStringSubmatch(node.Value)
	if len(matches) != 2 {
		return nil, false
	}
	value, exists := envMap[matches[1]]
	if !exists {
		return nil, true
	}

	var res []*yaml.Node
	for _, part := range strings.Split(value, ",") {
		res = append(res, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: part})
	}
	return res, true
}
