package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"snapattend/internal/checkin"
	"snapattend/internal/config"
	"snapattend/internal/logger"
	"snapattend/internal/scan"
)

// scanner is the student-side check-in client: it watches a camera for a session QR code and
// submits attendance to the API.
func main() {
	app := &cli.App{
		Name:  "scanner",
		Usage: "check in to an attendance session by scanning its QR code",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "api", Value: "http://localhost:8081", EnvVars: []string{"SNAPATTEND_API"}, Usage: "attendance API base URL"},
			&cli.StringFlag{Name: "log-level", Value: "warn", Usage: "debug, info, warn or error"},
		},
		Commands: []*cli.Command{checkinCommand(), qrCommand()},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func checkinCommand() *cli.Command {
	return &cli.Command{
		Name:  "checkin",
		Usage: "scan a session QR code and mark attendance",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "token", EnvVars: []string{"SNAPATTEND_TOKEN"}, Usage: "access token; skips the login exchange"},
			&cli.StringFlag{Name: "id-token", EnvVars: []string{"SNAPATTEND_ID_TOKEN"}, Usage: "identity provider ID token to exchange"},
			&cli.StringFlag{Name: "device", EnvVars: []string{"SNAPATTEND_DEVICE"}, Usage: "device identifier used for the logout cooldown"},
			&cli.StringFlag{Name: "frame", Usage: "image file a capture tool keeps overwriting"},
			&cli.StringFlag{Name: "snapshot-url", Usage: "JPEG snapshot endpoint of an IP camera"},
			&cli.DurationFlag{Name: "interval", Value: scan.DefaultInterval, Usage: "delay between decode attempts"},
			&cli.DurationFlag{Name: "timeout", Value: 2 * time.Minute, Usage: "give up scanning after this long"},
			&cli.Float64Flag{Name: "lat", Usage: "latitude of this device"},
			&cli.Float64Flag{Name: "lng", Usage: "longitude of this device"},
			&cli.BoolFlag{Name: "require-location", Usage: "fail instead of checking in without coordinates"},
			&cli.StringFlag{Name: "name", Usage: "full name to store on first check-in"},
			&cli.StringFlag{Name: "phone", Usage: "phone number to store on first check-in"},
		},
		Action: runCheckin,
	}
}

func qrCommand() *cli.Command {
	return &cli.Command{
		Name:      "qr",
		Usage:     "render a session payload as a PNG, for testing cameras",
		ArgsUsage: "<session-id> <qr-id> <out.png>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "size", Value: 512},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 3 {
				return cli.Exit("usage: scanner qr <session-id> <qr-id> <out.png>", 2)
			}
			png, err := scan.EncodePNG(scan.Payload{SessionID: c.Args().Get(0), QRToken: c.Args().Get(1)}, c.Int("size"))
			if err != nil {
				return err
			}
			return os.WriteFile(c.Args().Get(2), png, 0o644)
		},
	}
}

func newCamera(c *cli.Context) (scan.Camera, error) {
	switch {
	case c.String("frame") != "" && c.String("snapshot-url") != "":
		return nil, errors.New("use either --frame or --snapshot-url")
	case c.String("frame") != "":
		return &scan.FileCamera{Path: c.String("frame")}, nil
	case c.String("snapshot-url") != "":
		return &scan.SnapshotCamera{URL: c.String("snapshot-url"), Client: &http.Client{Timeout: 5 * time.Second}}, nil
	default:
		return nil, errors.New("a camera is required: --frame or --snapshot-url")
	}
}

func runCheckin(c *cli.Context) error {
	zl, err := logger.New(config.App{LogLevel: c.String("log-level"), LogFormat: "console"})
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	camera, err := newCamera(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	submitter := checkin.NewHTTPSubmitter(c.String("api"), c.String("token"))
	if submitter.Token == "" {
		if c.String("id-token") == "" {
			return cli.Exit("either --token or --id-token is required", 2)
		}
		exp, err := submitter.Login(ctx, c.String("id-token"), c.String("device"))
		if err != nil {
			return cli.Exit(fmt.Sprintf("login failed: %v", err), 1)
		}
		zl.Info("logged in", zap.Time("expires_at", exp))
	}

	var locator checkin.StaticLocator
	if c.IsSet("lat") && c.IsSet("lng") {
		locator.Location = &checkin.Location{Latitude: c.Float64("lat"), Longitude: c.Float64("lng")}
	}

	loop := scan.NewLoop(camera, scan.NewZXingDecoder(), scan.WithInterval(c.Duration("interval")), scan.WithLogger(zl))
	flow := checkin.NewFlow(checkin.Config{
		Locator:         locator,
		Scanner:         checkin.LoopScanner{Loop: loop},
		Submitter:       submitter,
		Profile:         checkin.Profile{FullName: c.String("name"), Phone: c.String("phone")},
		RequireLocation: c.Bool("require-location"),
		Logger:          zl,
		OnState: func(s checkin.State) {
			if s == checkin.StateScanning {
				fmt.Fprintln(c.App.Writer, "Point the camera at the session QR code...")
			}
		},
	})

	runCtx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
	defer cancel()
	out, err := flow.Run(runCtx)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, out.Message)
	if !out.Success {
		return cli.Exit("", 1)
	}
	return nil
}
