package main

import (
	"context"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/sunswitch/sunswitch/pkg/controller"
	"github.com/sunswitch/sunswitch/pkg/log"
	"github.com/sunswitch/sunswitch/pkg/storage"
	"github.com/sunswitch/sunswitch/pkg/types"
)

// seed fills the Firestore emulator with settings and a day of readings and
// actions so the API has something to show during development.
func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	s := storage.Configured()
	interval := lflag.Duration("seed-interval", 5*time.Minute, "Time between seeded readings")
	lflag.Configure()
	if *interval <= 0 {
		*interval = 5 * time.Minute
	}

	ctx := context.Background()
	defer s.Close()

	log.Ctx(ctx).InfoContext(ctx, "seeding mock data")

	settings := types.Settings{
		Enabled:     true,
		TriggerKW:   2.5,
		SwitchCodes: []string{types.DefaultSwitchCode},
	}
	if err := s.SetSettings(ctx, settings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed settings", "error", err)
		os.Exit(1)
	}

	// Use a new random source
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	c := controller.NewController()

	const solarPeakKW = 6.0

	now := time.Now()
	// Midnight to now
	start := now.Truncate(24 * time.Hour)

	var switchOn *bool
	var readings, actions int
	for t := start; t.Before(now); t = t.Add(*interval) {
		// Solar (bell curve around 13:00) with some cloud cover
		hour := float64(t.Hour()) + float64(t.Minute())/60
		solarKW := 0.0
		if hour > 6 && hour < 20 {
			dist := math.Abs(hour - 13.0)
			solarKW = solarPeakKW * math.Exp(-(dist*dist)/10.0)
			solarKW *= 0.7 + rng.Float64()*0.3
		}
		solarKW = math.Round(solarKW*1000) / 1000

		reading := types.Reading{
			Timestamp:         t,
			DeviceID:          "seed-inverter",
			ActivePowerKW:     solarKW,
			ReactivePowerKVar: math.Round(solarKW*0.05*1000) / 1000,
			TemperatureC:      25 + solarKW*3,
			InputVoltage:      math.Min(solarKW*120, 600),
			InputCurrent:      solarKW * 1.6,
		}
		if err := s.InsertReading(ctx, reading); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed reading", "error", err)
			os.Exit(1)
		}
		readings++

		d := c.Decide(ctx, solarKW, switchOn, settings)
		d.Action.Timestamp = t
		if d.Send {
			d.Action.Sent = true
			on := d.Action.SwitchOn
			switchOn = &on
		}
		if err := s.InsertAction(ctx, d.Action); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed action", "error", err)
			os.Exit(1)
		}
		actions++
	}

	log.Ctx(ctx).InfoContext(ctx, "seeded mock data", "readings", readings, "actions", actions)
}
