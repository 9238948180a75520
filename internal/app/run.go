package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/botdash/internal/api"
	"github.com/petervdpas/botdash/internal/config"
	"github.com/petervdpas/botdash/internal/conn"
	"github.com/petervdpas/botdash/internal/dispatch"
	"github.com/petervdpas/botdash/internal/localaudio"
	"github.com/petervdpas/botdash/internal/playback"
	"github.com/petervdpas/botdash/internal/poll"
	"github.com/petervdpas/botdash/internal/proto"
	"github.com/petervdpas/botdash/internal/state"
	"github.com/petervdpas/botdash/internal/storage"
	"github.com/petervdpas/botdash/internal/sysmon"
	"github.com/petervdpas/botdash/internal/util"
	"github.com/petervdpas/botdash/internal/viewer"
)

var log = logging.Logger("app")

type Options struct {
	CfgPath  string
	Cfg      config.Config
	Progress func(step, total int, label string)
}

// Run starts every component and blocks until ctx is done. Only startup
// errors are returned; once running, failures are logged and retried.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg

	emit := opt.Progress
	if emit == nil {
		emit = func(int, int, string) {}
	}
	step, total := 0, 5
	if cfg.Archive.DBPath != "" {
		total++
	}
	if cfg.Viewer.HTTPAddr != "" {
		total++
	}
	progress := func(label string) {
		step++
		emit(step, total, label)
	}

	applyLogLevel(cfg.Log.Level)
	logBuf := viewer.NewLogBuffer(800)
	pipe := logging.NewPipeReader(logging.PipeFormat(logging.PlaintextOutput))
	go func() { _, _ = io.Copy(logBuf, pipe) }()
	defer pipe.Close()

	logBanner(opt.CfgPath, cfg)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	store := state.NewStore()

	// ── Archive (optional)
	if cfg.Archive.DBPath != "" {
		progress("Opening archive")
		dbPath := cfg.Archive.DBPath
		if opt.CfgPath != "" {
			dbPath = util.ResolvePath(filepath.Dir(opt.CfgPath), dbPath)
		}
		db, err := storage.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer db.Close()
		if err := db.Seed(store); err != nil {
			log.Warnf("archive seed: %v", err)
		}
		rec := storage.NewRecorder(db, store)
		spawn(func() { rec.Run(ctx) })
		log.Infof("archive: %s", db.Path())
	}

	// ── Backend clients
	progress("Connecting to bot backend")
	client := api.NewClient(cfg.Backend.APIURL)
	mgr := conn.New(cfg.WSEndpoint(), conn.Options{
		ReconnectDelay: time.Duration(cfg.Backend.ReconnectDelayMs) * time.Millisecond,
	})
	defer mgr.Close()
	spawn(func() { trackConnectivity(ctx, mgr, store) })

	// ── Polling
	progress("Starting pollers")
	var sampler poll.Sampler
	if cfg.Poll.HostTelemetry {
		sampler = sysmon.New()
	}
	poller := poll.New(client, sampler, store, intervals(cfg.Poll))

	// ── Playback
	player := localaudio.New(&http.Client{})
	player.SetVolume(cfg.Playback.Volume)
	clientID := uuid.NewString()
	coord := playback.NewCoordinator(playback.Config{
		Ctx:       ctx,
		API:       client,
		Broadcast: mgr,
		Pipeline:  player,
		Store:     store,
		ClientID:  clientID,
		Resync:    func() { poller.Trigger(poll.Music) },
	})
	defer player.Stop()

	interp := playback.NewInterpolator()
	tick := time.Duration(cfg.Playback.TickMs) * time.Millisecond
	spawn(func() { interp.Run(ctx, store, tick) })
	spawn(func() { coord.Follow(ctx, 0) })

	// ── Dispatch
	progress("Starting event dispatch")
	disp := dispatch.New(store, clientID, dispatch.Hooks{
		RefreshRoster:   func() { poller.Trigger(poll.Roster) },
		RefreshActivity: func() { poller.Trigger(poll.Activity) },
		TrackStarted: func(t proto.Track) {
			go coord.OnTrack(ctx, t)
		},
	})
	spawn(func() { disp.Run(ctx, mgr.Events()) })
	mgr.Connect()

	// ── Guild selection
	progress("Selecting guild")
	sel := &selector{store: store, poller: poller, coord: coord}
	if err := sel.initial(ctx, client, proto.Snowflake(cfg.Backend.GuildID)); err != nil {
		log.Warnf("guild selection: %v", err)
	}
	poller.Initial(ctx)
	spawn(func() { poller.Run(ctx) })

	// ── Viewer (optional)
	if cfg.Viewer.HTTPAddr != "" {
		progress("Starting viewer")
		v := viewer.Viewer{
			Store:       store,
			Logs:        logBuf,
			Music:       coord,
			Bot:         client,
			SelectGuild: sel.Select,
			Refresh:     poller.Trigger,
		}
		addr := cfg.Viewer.HTTPAddr
		spawn(func() {
			if err := viewer.Start(ctx, addr, v); err != nil {
				log.Errorf("viewer: %v", err)
			}
		})
		log.Infof("viewer: %s", viewerURL(addr))
	}

	// ── Config hot reload
	if opt.CfgPath != "" {
		path := opt.CfgPath
		spawn(func() {
			err := config.Watch(ctx, path, func(c config.Config) {
				applyLogLevel(c.Log.Level)
				player.SetVolume(c.Playback.Volume)
				log.Infof("config reloaded (level=%s)", c.Log.Level)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warnf("config watch: %v", err)
			}
		})
	}

	progress("Online")
	store.Log("Dashboard started")

	<-ctx.Done()
	log.Info("shutting down")
	wg.Wait()
	return nil
}

func applyLogLevel(level string) {
	if level == "" {
		return
	}
	lvl, err := logging.LevelFromString(level)
	if err != nil {
		log.Warnf("log level %q: %v", level, err)
		return
	}
	logging.SetAllLoggers(lvl)
}

func intervals(p config.Poll) poll.Intervals {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return poll.Intervals{
		Music:     ms(p.MusicMs),
		Resources: ms(p.ResourcesMs),
		Cost:      ms(p.CostMs),
		ChatLogs:  ms(p.ChatLogsMs),
		Activity:  ms(p.ActivityMs),
		Roster:    ms(p.RosterMs),
	}
}

// trackConnectivity mirrors push channel transitions into the store.
func trackConnectivity(ctx context.Context, mgr *conn.Manager, store *state.Store) {
	ch, cancel := mgr.Subscribe()
	defer cancel()

	last := conn.Disconnected
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-ch:
			if !ok {
				return
			}
			store.SetConnectivity(st.Status.String(), st.LastError)
			if st.Status == last {
				continue
			}
			switch st.Status {
			case conn.Connected:
				store.Log("Push channel connected")
			case conn.Disconnected:
				if last == conn.Connected {
					store.Log("Push channel lost, reconnecting")
				}
			}
			last = st.Status
		}
	}
}
