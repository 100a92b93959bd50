package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"voxspawn/internal/usecase/capability"
)

// buildCapabilities registers the handlers that agent descriptors may
// reference. A descriptor naming a capability absent from this registry
// fails materialization.
func buildCapabilities(log *slog.Logger) *capability.Registry {
	reg := capability.NewRegistry()

	reg.Register("current_time", func(_ context.Context, args json.RawMessage) (string, error) {
		var req struct {
			Timezone string `json:"timezone"`
		}
		if len(args) > 0 {
			if err := json.Unmarshal(args, &req); err != nil {
				return "", err
			}
		}
		loc := time.Local
		if req.Timezone != "" {
			l, err := time.LoadLocation(req.Timezone)
			if err != nil {
				return "", fmt.Errorf("unknown timezone %q: %w", req.Timezone, err)
			}
			loc = l
		}
		return time.Now().In(loc).Format(time.RFC1123), nil
	})

	reg.Register("spell_out", func(_ context.Context, args json.RawMessage) (string, error) {
		var req struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return "", err
		}
		out := ""
		for i, r := range req.Text {
			if i > 0 {
				out += ", "
			}
			out += string(r)
		}
		return out, nil
	})

	log.Debug("capability registry ready", "capabilities", reg.Names())
	return reg
}
