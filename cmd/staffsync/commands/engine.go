package commands

import (
	"database/sql"

	"github.com/teranos/staffsync/config"
	"github.com/teranos/staffsync/db"
	"github.com/teranos/staffsync/lifecycle"
	"github.com/teranos/staffsync/logger"
	"github.com/teranos/staffsync/sched"
)

// engine bundles the wired scheduling stack shared by the daemon and the
// manual trigger commands.
type engine struct {
	conn      *sql.DB
	store     *sched.Store
	kv        *sched.KV
	registry  *sched.Registry
	executor  *sched.Executor
	scheduler *sched.Scheduler
	trigger   *lifecycle.Trigger
}

// buildEngine opens and migrates the database and wires the store, kv,
// handlers, executor, scheduler and trigger front end. The dry-run
// directory and HR clients stand in until a vendor adapter is configured.
func buildEngine(cfg *config.Config) (*engine, error) {
	log := logger.Logger

	conn, err := db.Open(cfg.Database.Path, log)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(conn, log); err != nil {
		conn.Close()
		return nil, err
	}

	store := sched.NewStore(conn, log)
	kv := sched.NewKV(conn)

	notifier := lifecycle.NewLogNotifier(log)

	registry := sched.NewRegistry()
	lifecycle.RegisterHandlers(registry, &lifecycle.HandlerDeps{
		Directory:   lifecycle.NewDryRunDirectory(log),
		HR:          lifecycle.NewDryRunHR(log),
		Notifier:    notifier,
		KV:          kv,
		Cooldown:    cfg.CooldownDuration(),
		EmailDomain: cfg.Business.EmailDomain,
		Log:         log,
	})

	executor := sched.NewExecutor(store, registry, cfg.ExecutorConfig(), log)
	executor.SetRedactor(lifecycle.Redact)
	executor.SetFailureHook(func(job *sched.Job, errText string) {
		notifier.NotifyFailure(string(job.Type), job.CorrelationID, errText)
	})

	scheduler := sched.NewScheduler(store, kv, cfg.DedupTolerance(), log)

	trigger := lifecycle.NewTrigger(scheduler, registry, kv, lifecycle.PolicyConfig{
		Zone:              cfg.Location(),
		PrehireHour:       cfg.Business.PrehireExecHour,
		PrehireMinute:     cfg.Business.PrehireExecMinute,
		PrehireOffsetDays: cfg.Business.PrehireOffsetDays,
		OffboardHour:      cfg.Business.OffboardExecHour,
		OffboardMinute:    cfg.Business.OffboardExecMinute,
		QuickFallback:     cfg.QuickFallback(),
	}, log)

	return &engine{
		conn:      conn,
		store:     store,
		kv:        kv,
		registry:  registry,
		executor:  executor,
		scheduler: scheduler,
		trigger:   trigger,
	}, nil
}

func (e *engine) Close() {
	e.conn.Close()
}
