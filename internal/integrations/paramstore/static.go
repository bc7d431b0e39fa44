package paramstore

import (
	"context"
	"fmt"
	"strings"
)

// Static serves parameters from an in-process map. It stands in for SSM
// when secrets come from the environment (local runs, tests).
type Static map[string]string

func (s Static) GetParameter(_ context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("paramstore: name is required")
	}
	v, ok := s[name]
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("paramstore: parameter %q not set", name)
	}
	return v, nil
}
