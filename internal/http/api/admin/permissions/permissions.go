// Package permissions lists the admin API routes an operator can be granted.
package permissions

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Definition describes one grantable admin route.
type Definition struct {
	Key    string `json:"key"`
	Method string `json:"method"`
	Path   string `json:"path"`
	Label  string `json:"label"`
	Module string `json:"module"`
}

// Key builds a permission key from method and route path.
func Key(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// NormalizePermissions trims, de-duplicates and sorts permissions.
func NormalizePermissions(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, perm := range perms {
		perm = strings.TrimSpace(perm)
		if perm == "" {
			continue
		}
		if _, ok := seen[perm]; ok {
			continue
		}
		seen[perm] = struct{}{}
		normalized = append(normalized, perm)
	}
	sort.Strings(normalized)
	return normalized
}

// ValidatePermissions rejects keys that name no known route.
func ValidatePermissions(perms []string) error {
	for _, perm := range perms {
		perm = strings.TrimSpace(perm)
		if perm == "" {
			continue
		}
		if _, ok := definitionMap[perm]; !ok {
			return fmt.Errorf("invalid permission: %s", perm)
		}
	}
	return nil
}

// ParsePermissions decodes a stored JSON permission list. Malformed input
// grants nothing.
func ParsePermissions(raw []byte) []string {
	if len(raw) == 0 {
		return []string{}
	}
	var perms []string
	if errUnmarshal := json.Unmarshal(raw, &perms); errUnmarshal != nil {
		return []string{}
	}
	return NormalizePermissions(perms)
}

// MarshalPermissions encodes normalized permissions for storage.
func MarshalPermissions(perms []string) ([]byte, error) {
	return json.Marshal(NormalizePermissions(perms))
}

// HasPermission reports whether key is granted.
func HasPermission(perms []string, key string) bool {
	if key == "" {
		return false
	}
	for _, perm := range perms {
		if perm == key {
			return true
		}
	}
	return false
}

// Definitions returns a copy of all definitions in display order.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

func newDefinition(method, path, label, module string) Definition {
	method = strings.ToUpper(method)
	return Definition{Key: Key(method, path), Method: method, Path: path, Label: label, Module: module}
}

var definitions = []Definition{
	newDefinition("GET", "/v0/admin/hazards", "List Hazards", "Hazards"),
	newDefinition("POST", "/v0/admin/hazards", "Create Hazard", "Hazards"),
	newDefinition("GET", "/v0/admin/hazards/:id", "Get Hazard", "Hazards"),
	newDefinition("PUT", "/v0/admin/hazards/:id", "Update Hazard", "Hazards"),
	newDefinition("DELETE", "/v0/admin/hazards/:id", "Delete Hazard", "Hazards"),
	newDefinition("POST", "/v0/admin/hazards/:id/enable", "Enable Hazard", "Hazards"),
	newDefinition("POST", "/v0/admin/hazards/:id/disable", "Disable Hazard", "Hazards"),
	newDefinition("POST", "/v0/admin/hazards/reload", "Reload Hazards", "Hazards"),
	newDefinition("GET", "/v0/admin/registry", "View Active Registry", "Hazards"),

	newDefinition("GET", "/v0/admin/blockages/:client", "View Blockage", "Blockages"),
	newDefinition("DELETE", "/v0/admin/blockages/:client", "Lift Blockage", "Blockages"),
	newDefinition("GET", "/v0/admin/buckets/:hazard/:client", "View Bucket", "Blockages"),

	newDefinition("GET", "/v0/admin/events", "List Events", "Events"),
	newDefinition("GET", "/v0/admin/events/stream", "Stream Events", "Events"),

	newDefinition("POST", "/v0/admin/admins", "Create Administrator", "Administrators"),
	newDefinition("GET", "/v0/admin/admins", "List Administrators", "Administrators"),
	newDefinition("DELETE", "/v0/admin/admins/:id", "Delete Administrator", "Administrators"),
	newDefinition("POST", "/v0/admin/admins/:id/disable", "Disable Administrator", "Administrators"),
	newDefinition("POST", "/v0/admin/admins/:id/enable", "Enable Administrator", "Administrators"),
	newDefinition("GET", "/v0/admin/permissions", "List Permission Definitions", "Administrators"),
}

var definitionMap = func() map[string]Definition {
	out := make(map[string]Definition, len(definitions))
	for _, def := range definitions {
		out[def.Key] = def
	}
	return out
}()
