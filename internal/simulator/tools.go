package simulator

import (
	"context"
	"encoding/json"
	"fmt"

	"labvalidate/internal/tools"
)

// Tool names offered to autonomous backends.
const (
	ToolSendCommand     = "send_command_to_equipment"
	ToolEquipmentStatus = "get_equipment_status"
	ToolListEquipment   = "list_equipment"
)

// RegisterTools adds the equipment tools backed by sim to reg. defaultCommand
// is used when a caller leaves the command empty.
func RegisterTools(reg *tools.Registry, sim *Simulator, defaultCommand string) error {
	defs := []*tools.Tool{
		{
			Name:        ToolSendCommand,
			Description: "Send a command to a piece of equipment and return its JSON response.",
			Category:    tools.CategoryEquipment,
			Schema: tools.ToolSchema{
				Required: []string{"equipment_id"},
				Properties: map[string]tools.Property{
					"equipment_id": {Type: "string", Description: "Equipment type or identifier, e.g. Ericsson-MMU"},
					"command":      {Type: "string", Description: "Command to run", Default: defaultCommand},
					"parameters":   {Type: "object", Description: "Optional command parameters"},
				},
			},
			Execute: func(ctx context.Context, args map[string]any) (string, error) {
				id, err := tools.StringArg(args, "equipment_id")
				if err != nil {
					return "", err
				}
				command, err := tools.StringArg(args, "command")
				if err != nil {
					return "", err
				}
				if command == "" {
					command = defaultCommand
				}
				params, err := tools.MapArg(args, "parameters")
				if err != nil {
					return "", err
				}
				resp, err := sim.Run(ctx, id, command, params)
				if err != nil {
					return "", err
				}
				return encode(resp)
			},
		},
		{
			Name:        ToolEquipmentStatus,
			Description: "Report whether a piece of equipment is available.",
			Category:    tools.CategoryEquipment,
			Schema: tools.ToolSchema{
				Required: []string{"equipment_id"},
				Properties: map[string]tools.Property{
					"equipment_id": {Type: "string", Description: "Equipment type or identifier"},
				},
			},
			Execute: func(ctx context.Context, args map[string]any) (string, error) {
				id, err := tools.StringArg(args, "equipment_id")
				if err != nil {
					return "", err
				}
				return encode(sim.Status(id))
			},
		},
		{
			Name:        ToolListEquipment,
			Description: "List every available piece of equipment.",
			Category:    tools.CategoryEquipment,
			Execute: func(ctx context.Context, args map[string]any) (string, error) {
				return encode(sim.List())
			},
		},
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}
	return string(b), nil
}
