package daemon

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/charlie0129/linepark/pkg/config"
	"github.com/charlie0129/linepark/pkg/events"
	"github.com/charlie0129/linepark/pkg/hw/sim"
	"github.com/charlie0129/linepark/pkg/journal"
	"github.com/charlie0129/linepark/pkg/link"
	"github.com/charlie0129/linepark/pkg/parking"
)

var (
	conf      config.Config
	vehicles  []*ControlLoop
	journalDB *journal.DB
	hub       *events.Hub
	// serverCtx ends long-lived requests such as event streams on shutdown.
	serverCtx = context.Background()
)

// Options configure a daemon run.
type Options struct {
	ConfigPath     string
	UnixSocketPath string
	// JournalPath is the SQLite history file. Empty disables the journal.
	JournalPath string
	// AllowNonRoot makes the socket world-accessible.
	AllowNonRoot bool
	// Simulate adds a simulated partner vehicle on the same track, linked
	// in-process, instead of opening the serial link.
	Simulate bool
}

func setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/status", getStatus)
	router.GET("/config", getConfig)
	router.PUT("/calibration", setCalibration)
	router.PUT("/parking", setParking)
	router.GET("/history", getHistory)
	router.GET("/events", streamEvents)
	router.GET("/version", getVersion)

	return router
}

// roleConfig hands the simulated partner the opposite role while sharing
// every other setting, including calibration changes made through the API.
type roleConfig struct {
	config.Config
	role parking.Role
}

func (c roleConfig) Role() parking.Role {
	return c.role
}

func otherRole(r parking.Role) parking.Role {
	if r == parking.Host {
		return parking.Peer
	}
	return parking.Host
}

func Run(opts Options) (err error) {
	router := setupRoutes()

	fileConf, err := config.NewFile(opts.ConfigPath)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to parse config during startup")
	}
	if err := fileConf.Validate(); err != nil {
		return pkgerrors.Wrapf(err, "invalid config %s", opts.ConfigPath)
	}
	conf = fileConf
	logrus.WithFields(fileConf.LogrusFields()).Infof("config loaded")

	if opts.JournalPath != "" {
		journalDB, err = journal.Open(opts.JournalPath)
		if err != nil {
			return err
		}
		logrus.WithField("path", opts.JournalPath).Info("journal opened")
		defer func() {
			err = multierr.Append(err, journalDB.Close())
		}()
	}

	hub = events.NewHub()

	// The drive train is simulated; real sensor and motor drivers plug in
	// through hw.Rig.
	clk := clock.New()
	world := sim.NewWorld(sim.DefaultWorldConfig(), clk)

	var ch link.Channel
	if opts.Simulate {
		local, remote := link.Pair()
		ch = local
		partner := NewControlLoop(LoopOptions{
			Name:    "sim-" + otherRole(conf.Role()).String(),
			Config:  roleConfig{Config: conf, role: otherRole(conf.Role())},
			Rig:     world.AddVehicle("partner", math.Pi).Rig(),
			Channel: remote,
			Clock:   clk,
		})
		vehicles = append(vehicles, partner)
		logrus.Info("simulating the partner vehicle in-process")
	} else {
		lc := conf.Link()
		s, err := link.OpenSerial(lc.Device, lc.Options)
		if err != nil {
			return err
		}
		ch = s
		logrus.WithField("device", lc.Device).Info("serial link opened")
	}
	defer func() {
		err = multierr.Append(err, ch.Close())
	}()

	local := NewControlLoop(LoopOptions{
		Name:    conf.Role().String(),
		Config:  conf,
		Rig:     world.AddVehicle("local", 0).Rig(),
		Channel: ch,
		Clock:   clk,
	})
	vehicles = append([]*ControlLoop{local}, vehicles...)
	for _, v := range vehicles {
		wireHooks(v)
	}

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			if err := reloadConfig(); err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			logrus.Infof("config reloaded")
		}
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	serverCtx = ctx

	srv := &http.Server{
		Handler: router,
	}

	// Create the socket to listen on:
	_ = os.Remove(opts.UnixSocketPath)
	l, err := net.Listen("unix", opts.UnixSocketPath)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to listen on %s", opts.UnixSocketPath)
	}

	if opts.AllowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", opts.UnixSocketPath)
		if err := os.Chmod(opts.UnixSocketPath, 0777); err != nil {
			_ = l.Close()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	for _, v := range vehicles {
		g.Go(func() error {
			return v.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logrus.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logrus.Info("exiting")
	return err
}

// reloadConfig re-reads the config file and hands it to every loop.
func reloadConfig() error {
	if err := conf.Load(); err != nil {
		return err
	}
	if err := conf.Validate(); err != nil {
		return err
	}
	for _, v := range vehicles {
		v.Reload()
	}
	return nil
}
