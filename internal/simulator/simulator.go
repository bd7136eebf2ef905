// Package simulator provides an in-process TargetSimulator for radio
// equipment. Every command answers with the same payload shape; a configurable
// share of calls fail with a typed reason.
package simulator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"labvalidate/internal/logging"
	"labvalidate/internal/types"
)

// ErrorCodeEquipmentNotFound is reported for identifiers that match no
// simulated equipment.
const ErrorCodeEquipmentNotFound = "EQUIPMENT_NOT_FOUND"

// DefaultSuccessRate is the share of commands that succeed.
const DefaultSuccessRate = 0.9

// Equipment is one simulated device.
type Equipment struct {
	ID     string `json:"equipment_id"`
	Type   string `json:"equipment_type"`
	Vendor string `json:"vendor"`
	Model  string `json:"model"`
}

// defaultEquipment lists the simulated devices by type.
var defaultEquipment = []string{
	"Ericsson-MMU",
	"Ericsson-RRU",
	"Samsung-AUv1",
	"Samsung-AUv2",
}

// FailureReason is a simulated equipment-level failure.
type FailureReason struct {
	Code    string
	Message string
	Details string
}

var failureReasons = []FailureReason{
	{"COMMUNICATION_TIMEOUT", "communication timeout", "The network connection timed out. Check connectivity to the equipment."},
	{"FUNCTION_NOT_SUPPORTED", "function not supported", "The requested function is not supported by this equipment."},
	{"CONFIGURATION_ERROR", "configuration error", "The equipment configuration is invalid. Check the configured values."},
	{"HARDWARE_ERROR", "hardware error", "A hardware fault was detected. Maintenance is required."},
	{"AUTHENTICATION_FAILED", "authentication failed", "Authentication failed. Check access permissions."},
	{"RESOURCE_UNAVAILABLE", "resource unavailable", "Required resources are exhausted. Check system load."},
}

// Config configures a Simulator.
type Config struct {
	// SuccessRate in [0, 1]; values outside fall back to DefaultSuccessRate.
	SuccessRate float64
	// Seed for the random source; 0 uses the current time.
	Seed int64
	// MinLatency and MaxLatency bound how long each command takes.
	MinLatency time.Duration
	MaxLatency time.Duration
	// Equipment types to simulate; empty means the default set.
	Equipment []string
}

// Simulator implements types.TargetSimulator.
type Simulator struct {
	successRate float64
	minLatency  time.Duration
	maxLatency  time.Duration

	equipment map[string]Equipment // by ID
	aliases   map[string]string    // type -> ID

	mu  sync.Mutex
	rng *rand.Rand
}

var _ types.TargetSimulator = (*Simulator)(nil)

// New creates a simulator from cfg.
func New(cfg Config) *Simulator {
	rate := cfg.SuccessRate
	if math.IsNaN(rate) || rate < 0 || rate > 1 {
		rate = DefaultSuccessRate
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	lo, hi := cfg.MinLatency, cfg.MaxLatency
	if lo < 0 {
		lo = 0
	}
	if hi < lo {
		hi = lo
	}
	kinds := cfg.Equipment
	if len(kinds) == 0 {
		kinds = defaultEquipment
	}

	s := &Simulator{
		successRate: rate,
		minLatency:  lo,
		maxLatency:  hi,
		equipment:   make(map[string]Equipment, len(kinds)),
		aliases:     make(map[string]string, len(kinds)),
		rng:         rand.New(rand.NewSource(seed)),
	}
	for _, kind := range kinds {
		id := kind + "-001"
		s.equipment[id] = Equipment{
			ID:     id,
			Type:   kind,
			Vendor: vendorOf(id),
			Model:  modelOf(id),
		}
		s.aliases[kind] = id
	}
	logging.Simulator("simulating %d devices (success rate %.2f, latency %v-%v)", len(s.equipment), rate, lo, hi)
	return s
}

// SuccessRate returns the configured success rate.
func (s *Simulator) SuccessRate() float64 { return s.successRate }

// Resolve maps an equipment type or ID to a simulated device.
func (s *Simulator) Resolve(equipmentID string) (Equipment, bool) {
	id := strings.TrimSpace(equipmentID)
	if alias, ok := s.aliases[id]; ok {
		id = alias
	}
	eq, ok := s.equipment[id]
	return eq, ok
}

// List returns the simulated devices sorted by ID.
func (s *Simulator) List() []Equipment {
	out := make([]Equipment, 0, len(s.equipment))
	for _, eq := range s.equipment {
		out = append(out, eq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Status reports whether equipmentID is known and how it behaves.
func (s *Simulator) Status(equipmentID string) map[string]any {
	eq, ok := s.Resolve(equipmentID)
	if !ok {
		return map[string]any{
			"equipment_id": equipmentID,
			"status":       "not_found",
			"error":        "equipment not found",
		}
	}
	return map[string]any{
		"equipment_id": eq.ID,
		"vendor":       eq.Vendor,
		"model":        eq.Model,
		"status":       "active",
		"success_rate": s.successRate,
		"last_update":  time.Now().Format(time.RFC3339),
	}
}

// Run executes command on equipmentID. Equipment-level failures are returned
// as a response with Status == SimulatorError; the error return is reserved
// for context cancellation.
func (s *Simulator) Run(ctx context.Context, equipmentID, command string, params map[string]any) (types.SimulatorResponse, error) {
	eq, ok := s.Resolve(equipmentID)
	if !ok {
		logging.SimulatorDebug("unknown equipment %q", equipmentID)
		return types.SimulatorResponse{
			Status:       types.SimulatorError,
			EquipmentID:  equipmentID,
			Command:      command,
			ErrorCode:    ErrorCodeEquipmentNotFound,
			ErrorMessage: fmt.Sprintf("equipment not found: %s", equipmentID),
		}, nil
	}

	latency, succeed, draw := s.roll(eq)

	if latency > 0 {
		timer := time.NewTimer(latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return types.SimulatorResponse{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return types.SimulatorResponse{}, err
	}

	resp := types.SimulatorResponse{
		EquipmentID:  eq.ID,
		Vendor:       eq.Vendor,
		Model:        eq.Model,
		Command:      command,
		DurationHint: latency.Seconds(),
	}
	if !succeed {
		reason := failureReasons[draw.reason]
		resp.Status = types.SimulatorError
		resp.ErrorCode = reason.Code
		resp.ErrorMessage = reason.Message
		resp.ErrorDetails = reason.Details
		resp.RetryPossible = draw.retry
		logging.SimulatorDebug("%s %s failed: %s", eq.ID, command, reason.Code)
		return resp, nil
	}

	resp.Status = types.SimulatorSuccess
	resp.Data = draw.payload
	if len(params) > 0 {
		resp.Data["parameters"] = params
	}
	logging.SimulatorDebug("%s %s succeeded in %v", eq.ID, command, latency)
	return resp, nil
}

type drawResult struct {
	reason  int
	retry   bool
	payload map[string]any
}

// roll draws every random value for one call under the lock.
func (s *Simulator) roll(eq Equipment) (time.Duration, bool, drawResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latency := s.minLatency
	if span := s.maxLatency - s.minLatency; span > 0 {
		latency += time.Duration(s.rng.Int63n(int64(span) + 1))
	}

	succeed := s.rng.Float64() < s.successRate
	var d drawResult
	if !succeed {
		d.reason = s.rng.Intn(len(failureReasons))
		d.retry = s.rng.Intn(2) == 0
		return latency, false, d
	}
	d.payload = s.payload(eq)
	return latency, true, d
}

// payload builds the uniform success payload. Caller holds s.mu.
func (s *Simulator) payload(eq Equipment) map[string]any {
	r := s.rng
	pick := func(options ...any) any { return options[r.Intn(len(options))] }
	between := func(lo, hi float64, digits int) float64 {
		p := math.Pow(10, float64(digits))
		return math.Round((lo+r.Float64()*(hi-lo))*p) / p
	}

	out := map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
		"data": map[string]any{
			"cell_id":                 fmt.Sprintf("CELL_%d", 1000+r.Intn(9000)),
			"frequency_mhz":           pick(700, 850, 1800, 2100, 2600, 3500),
			"bandwidth_mhz":           pick(5, 10, 15, 20),
			"signal_strength_dbm":     between(-120, -60, 1),
			"active_users":            r.Intn(201),
			"throughput_mbps":         between(50, 1000, 1),
			"error_rate_percent":      between(0, 5, 3),
			"temperature_celsius":     between(20, 45, 1),
			"power_consumption_watts": between(100, 500, 1),
		},
		"configuration": map[string]any{
			"enabled":   true,
			"mode":      pick("normal", "power_save", "high_performance"),
			"priority":  1 + r.Intn(10),
			"max_users": 100 + r.Intn(401),
		},
		"performance_metrics": map[string]any{
			"cpu_usage_percent":    between(10, 80, 1),
			"memory_usage_percent": between(20, 70, 1),
			"uptime_hours":         1 + r.Intn(8760),
			"packet_loss_percent":  between(0, 2, 3),
		},
	}
	switch eq.Vendor {
	case "Ericsson":
		out["ericsson_specific"] = map[string]any{
			"rbs_id":              fmt.Sprintf("RBS_%d", 100+r.Intn(900)),
			"carrier_aggregation": r.Intn(2) == 0,
			"mimo_layers":         pick(2, 4, 8),
		}
	case "Samsung":
		out["samsung_specific"] = map[string]any{
			"au_id":               fmt.Sprintf("AU_%d", 100+r.Intn(900)),
			"beamforming_enabled": r.Intn(2) == 0,
			"advanced_features": map[string]any{
				"adaptive_sleep":     r.Intn(2) == 0,
				"traffic_prediction": r.Intn(2) == 0,
			},
		}
	}
	return out
}

func vendorOf(id string) string {
	switch {
	case strings.Contains(id, "Ericsson"):
		return "Ericsson"
	case strings.Contains(id, "Samsung"):
		return "Samsung"
	default:
		return "Unknown"
	}
}

func modelOf(id string) string {
	switch {
	case strings.Contains(id, "MMU"):
		return "MMU"
	case strings.Contains(id, "RRU"):
		return "RRU"
	case strings.Contains(id, "AUv1"):
		return "AU v1"
	case strings.Contains(id, "AUv2"):
		return "AU v2"
	default:
		return "Unknown"
	}
}
