// Package bootstrap assembles a runtime from configuration: store, policy, ledger, engine and runner.
package bootstrap

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/davidahmann/liqueflow/internal/batch"
	"github.com/davidahmann/liqueflow/internal/config"
	"github.com/davidahmann/liqueflow/internal/engine"
	"github.com/davidahmann/liqueflow/internal/escalation"
	"github.com/davidahmann/liqueflow/internal/ledger"
	"github.com/davidahmann/liqueflow/internal/ledger/pgstore"
	"github.com/davidahmann/liqueflow/internal/ledger/sqlstore"
	"github.com/davidahmann/liqueflow/internal/metrics"
	"github.com/davidahmann/liqueflow/internal/policy"
	"github.com/davidahmann/liqueflow/pkg/types"
)

type Runtime struct {
	Config  config.Config
	Policy  policy.LoadedPolicy
	Store   ledger.Store
	Ledger  *ledger.UnifiedLedger
	Engine  *engine.Engine
	Runner  *batch.Runner
	Tracker *metrics.Tracker
	// Poster is nil unless escalation.enabled is set.
	Poster escalation.Poster

	closer io.Closer
}

type Options struct {
	Logger *log.Logger
	Now    func() time.Time
}

func Build(cfg config.Config, opts Options) (*Runtime, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	store, closer, err := OpenStore(cfg.DB)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Config: cfg, Store: store, closer: closer}

	if err := rt.build(opts); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) build(opts Options) error {
	cfg := rt.Config

	loaded := policy.Builtin()
	if cfg.PolicyPath != "" {
		var err error
		loaded, err = policy.LoadPolicy(cfg.PolicyPath)
		if err != nil {
			return fmt.Errorf("load policy: %w", err)
		}
	}
	rt.Policy = loaded
	if _, ok := rt.Store.GetPolicyVersion(loaded.Hash); !ok {
		err := rt.Store.PutPolicyVersion(ledger.PolicyVersionRecord{
			PolicyHash:    loaded.Hash,
			PolicyID:      loaded.Policy.PolicyID,
			PolicyVersion: loaded.Policy.PolicyVersion,
			PolicyYAML:    string(loaded.Bytes),
			CreatedAt:     opts.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return fmt.Errorf("store policy version: %w", err)
		}
	}

	led, err := ledger.Load(rt.Store, ledger.WithClock(opts.Now), ledger.WithCurrency(cfg.Currency))
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	rt.Ledger = led

	engCfg := engine.Config{
		InitialBalance: cfg.InitialBalance,
		Limits:         cfg.BreakerLimits(),
		Policy:         loaded.Policy,
		PolicyHash:     loaded.Hash,
		MaxRepo:        cfg.Limits.MaxRepoAmount,
		Now:            opts.Now,
	}
	if cfg.Ledger.AtomicSettlement {
		if led.Snapshot().InstructionLogEntries == 0 && cfg.InitialBalance.IsPositive() {
			if _, err := led.Mint(cfg.BankID, cfg.InitialBalance); err != nil {
				return fmt.Errorf("mint opening balance: %w", err)
			}
			opts.Logger.Printf("ledger_seeded owner=%s amount=%s", cfg.BankID, cfg.InitialBalance)
		}
		engCfg.Settler = led
		engCfg.SettlementFrom = cfg.BankID
		engCfg.SettlementTo = cfg.CounterpartyAccount
	}
	eng, err := engine.New(engCfg)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	rt.Engine = eng

	rt.Tracker = metrics.NewTracker()
	runnerCfg := batch.Config{
		Engine:  eng,
		Store:   rt.Store,
		Tracker: rt.Tracker,
		Channel: cfg.Escalation.Channel,
		Logger:  opts.Logger,
		Now:     opts.Now,
	}
	if cfg.Ledger.AtomicSettlement {
		runnerCfg.Ledger = led
	}
	rt.Runner, err = batch.NewRunner(runnerCfg)
	if err != nil {
		return err
	}

	if cfg.Escalation.Enabled {
		rt.Poster = escalation.NewWebhookPoster(cfg.Escalation.WebhookURL)
	}
	return nil
}

// InitialSnapshot opens the day. In atomic mode the balance is whatever the bank holds on the ledger.
func (rt *Runtime) InitialSnapshot() types.LiquiditySnapshot {
	if rt.Config.Ledger.AtomicSettlement {
		return types.NewSnapshot(rt.Ledger.Balance(rt.Config.BankID))
	}
	return types.NewSnapshot(rt.Config.InitialBalance)
}

func (rt *Runtime) Close() error {
	if rt.closer == nil {
		return nil
	}
	return rt.closer.Close()
}

// OpenStore opens and migrates the configured database. An empty driver keeps everything in memory.
func OpenStore(db config.DBConfig) (ledger.Store, io.Closer, error) {
	switch db.Driver {
	case "":
		return ledger.NewInMemoryStore(), nil, nil
	case string(ledger.DBSQLite):
		s, err := sqlstore.OpenSQLite(db.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := ledger.Migrate(s.DB(), ledger.DBSQLite); err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return s, s, nil
	case string(ledger.DBPostgres):
		s, err := pgstore.OpenPostgres(db.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := ledger.Migrate(s.DB(), ledger.DBPostgres); err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unsupported db driver %q", db.Driver)
	}
}
