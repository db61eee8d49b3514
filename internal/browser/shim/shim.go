// internal/browser/shim/shim.go
package shim

import (
	_ "embed"
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
)

const (
	// NativesPlaceholder is replaced in the template with the JSON object that
	// maps logical entry point names to the globals they are registered under.
	NativesPlaceholder = "/*{{RETUMI_NATIVES}}*/"
)

//go:embed runtime_shim.js
var runtimeShimTemplate string

// Natives names the globals the worker registers its native entry points
// under. The shim reads them once and then deletes them.
type Natives struct {
	Print          string `json:"print"`
	GetElementByID string `json:"getElementById"`
	QuerySelector  string `json:"querySelector"`
	GetAttribute   string `json:"getAttribute"`
	SetAttribute   string `json:"setAttribute"`
	SetText        string `json:"setText"`
	// Session reports the current session token. It does not cross the
	// bridge.
	Session string `json:"session"`
}

// DefaultNatives returns the global names used by the script worker.
func DefaultNatives() Natives {
	return Natives{
		Print:          "__retumi_print",
		GetElementByID: "__retumi_get_element_by_id",
		QuerySelector:  "__retumi_query_selector",
		GetAttribute:   "__retumi_get_attribute",
		SetAttribute:   "__retumi_set_attribute",
		SetText:        "__retumi_set_text",
		Session:        "__retumi_session",
	}
}

// Names lists every global name, in a fixed order.
func (n Natives) Names() []string {
	return []string{n.Print, n.GetElementByID, n.QuerySelector, n.GetAttribute, n.SetAttribute, n.SetText, n.Session}
}

// GetRuntimeShimTemplate returns the embedded shim template.
func GetRuntimeShimTemplate() (string, error) {
	if strings.TrimSpace(runtimeShimTemplate) == "" {
		return "", fmt.Errorf("embedded runtime_shim.js template is empty or failed to load")
	}
	return runtimeShimTemplate, nil
}

// BuildRuntimeShim injects the natives mapping into the template.
func BuildRuntimeShim(template, nativesJSON string) (string, error) {
	if template == "" {
		return "", fmt.Errorf("template is empty")
	}
	if !strings.Contains(template, NativesPlaceholder) {
		return "", fmt.Errorf("template does not contain the required placeholder: %s", NativesPlaceholder)
	}
	if strings.TrimSpace(nativesJSON) == "" {
		return "", fmt.Errorf("natives mapping is empty")
	}
	return strings.Replace(template, NativesPlaceholder, nativesJSON, 1), nil
}

// RuntimeShim renders the embedded template for the given natives.
func RuntimeShim(n Natives) (string, error) {
	for _, name := range n.Names() {
		if name == "" {
			return "", fmt.Errorf("natives mapping has an empty entry: %+v", n)
		}
	}
	template, err := GetRuntimeShimTemplate()
	if err != nil {
		return "", err
	}
	mapping, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("failed to encode natives mapping: %w", err)
	}
	return BuildRuntimeShim(template, string(mapping))
}
