package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/safespaces/core"
	"github.com/signalsfoundry/safespaces/internal/logging"
	"github.com/signalsfoundry/safespaces/internal/notify"
	"github.com/signalsfoundry/safespaces/internal/schedule"
	"github.com/signalsfoundry/safespaces/internal/state"
	"github.com/signalsfoundry/safespaces/kb"
	"github.com/signalsfoundry/safespaces/model"
	"github.com/signalsfoundry/safespaces/timectrl"
)

// Scenario is an offline replay: zones plus a timestamped device track.
type Scenario struct {
	Start  time.Time      `yaml:"start"`
	End    time.Time      `yaml:"end"`
	Tick   time.Duration  `yaml:"tick"`
	Person scenarioPerson `yaml:"person"`
	Zones  []scenarioZone `yaml:"zones"`
	Fixes  []scenarioFix  `yaml:"fixes"`
}

type scenarioPerson struct {
	Name  string `yaml:"name"`
	Phone string `yaml:"phone"`
}

type scenarioZone struct {
	Name      string  `yaml:"name"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	RadiusM   float64 `yaml:"radius_m"`
	Window    struct {
		Start time.Time `yaml:"start"`
		End   time.Time `yaml:"end"`
	} `yaml:"window"`
	Guardian struct {
		Name  string `yaml:"name"`
		Phone string `yaml:"phone"`
	} `yaml:"guardian"`
}

type scenarioFix struct {
	At        time.Time `yaml:"at"`
	Latitude  float64   `yaml:"latitude"`
	Longitude float64   `yaml:"longitude"`
}

func (z scenarioZone) toModel() model.Zone {
	return model.Zone{
		Name:     z.Name,
		Center:   model.Coordinate{Latitude: z.Latitude, Longitude: z.Longitude},
		Radius:   z.RadiusM,
		Window:   model.TimeWindow{Start: z.Window.Start, End: z.Window.End},
		Guardian: model.Guardian{Name: z.Guardian.Name, Phone: z.Guardian.Phone},
	}
}

// LoadScenario parses a YAML scenario and fills defaults: a one-minute tick,
// a start at the first fix and an end one hour after the last fix or window.
func LoadScenario(data []byte) (Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario: %w", err)
	}
	if len(sc.Zones) == 0 {
		return Scenario{}, errors.New("scenario has no zones")
	}
	sort.SliceStable(sc.Fixes, func(i, j int) bool { return sc.Fixes[i].At.Before(sc.Fixes[j].At) })

	if sc.Tick <= 0 {
		sc.Tick = time.Minute
	}
	if sc.Person.Name == "" {
		sc.Person.Name = "Me"
	}
	if sc.Start.IsZero() {
		if len(sc.Fixes) == 0 {
			return Scenario{}, errors.New("scenario needs a start time or at least one fix")
		}
		sc.Start = sc.Fixes[0].At
	}
	if sc.End.IsZero() {
		last := sc.Start
		if n := len(sc.Fixes); n > 0 && sc.Fixes[n-1].At.After(last) {
			last = sc.Fixes[n-1].At
		}
		for _, z := range sc.Zones {
			if z.Window.End.After(last) {
				last = z.Window.End
			}
		}
		sc.End = last.Add(time.Hour)
	}
	if !sc.End.After(sc.Start) {
		return Scenario{}, errors.New("scenario end must be after start")
	}
	return sc, nil
}

func replayCmd(v *viper.Viper) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a scenario against the engine in simulated time",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			sc, err := LoadScenario(data)
			if err != nil {
				return err
			}
			notes, err := runReplay(cmd.Context(), sc, newLogger(cfg), cfg.Notify.Title)
			if err != nil {
				return err
			}
			for _, n := range notes {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-20s %-18s %s\n",
					n.At.Format(time.RFC3339), n.Zone, n.Kind, n.LocalBody)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "scenario", "", "path to a YAML scenario")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

// runReplay drives the scenario in accelerated simulated time. Every tick
// first applies the fixes taken up to that instant, then runs due deadline
// checks. It returns the notifications in emission order.
func runReplay(ctx context.Context, sc Scenario, log logging.Logger, title string) ([]model.Notification, error) {
	clock := timectrl.NewTimeController(sc.Start, sc.Tick, timectrl.Accelerated)
	scheduler := schedule.NewEventScheduler(clock)

	dispatcher := notify.NewDispatcher(
		notify.WithLocalChannels(notify.NewLogChannel(log)),
		notify.WithRemote(notify.NewLogChannel(log), notify.RefResolver{}),
		notify.WithWorkers(1),
		notify.WithQueueSize(len(sc.Zones)*8+len(sc.Fixes)*2+16),
		notify.WithDispatcherLogger(log),
		notify.WithDispatcherClock(clock.Now),
	)
	defer func() { _ = dispatcher.Close(context.Background()) }()

	tracker := core.NewLocationTracker(core.WithTrackerClock(clock), core.WithTrackerLogger(log))
	engine := core.NewGeofenceEngine(tracker, dispatcher, scheduler,
		model.MonitoredPerson{Name: sc.Person.Name, Phone: sc.Person.Phone},
		core.WithEngineLogger(log),
		core.WithTitle(title),
	)
	tracker.Attach(engine)

	var notes []model.Notification
	unsubscribe := engine.Subscribe(func(n model.Notification) { notes = append(notes, n) })
	defer unsubscribe()

	st := state.NewSafeSpaceState(kb.NewKnowledgeBase(), engine, log)
	for _, z := range sc.Zones {
		if err := st.PutZone(ctx, z.toModel()); err != nil {
			return nil, fmt.Errorf("zone %q: %w", z.Name, err)
		}
	}

	next := 0
	var fixErr error
	clock.AddListener(func(now time.Time) {
		for next < len(sc.Fixes) && !sc.Fixes[next].At.After(now) {
			f := sc.Fixes[next]
			next++
			c := model.Coordinate{Latitude: f.Latitude, Longitude: f.Longitude}
			if err := tracker.UpdateLocation(ctx, c, f.At); err != nil && fixErr == nil {
				fixErr = fmt.Errorf("fix at %s: %w", f.At.Format(time.RFC3339), err)
			}
		}
		scheduler.RunDue()
	})

	<-clock.Start(sc.End.Sub(sc.Start))
	if fixErr != nil {
		return notes, fixErr
	}
	return notes, nil
}
