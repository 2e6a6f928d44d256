// Package forwarder implements the thin control-command relay described
// in §4.6: it resolves an operator's target device through the registry,
// encodes a control_command frame, and writes it without waiting for the
// device's eventual response.
package forwarder

import (
	"errors"
	"fmt"

	"github.com/campushub/eqserver/internal/registry"
	"github.com/campushub/eqserver/pkg/wire"
)

// Forward sends a control_command for deviceID. It returns
// registry.ErrDeviceOffline if no equipment connection is currently bound
// to deviceID, or a wrapped write error if the send itself fails.
func Forward(reg *registry.Registry, deviceID string, cmd wire.CommandKind, params string) error {
	fields := []string{fmt.Sprintf("%d", cmd)}
	if params != "" {
		fields = append(fields, params)
	}
	body := wire.Encode(wire.ClientTypeEquipment, wire.KindControlCommand, deviceID, fields...)

	err := reg.SendToDevice(deviceID, body)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceOffline) {
			return err
		}
		return fmt.Errorf("forwarder: write to %q: %w", deviceID, err)
	}
	return nil
}
