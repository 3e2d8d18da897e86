// evtcam drives a GigE Vision style camera through the acquisition
// engine: enumerate devices, capture frames to disk, or serve status and
// preview over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gigekit/evtcam/internal/server"
	"github.com/gigekit/evtcam/pkg/engine"
	"github.com/gigekit/evtcam/pkg/sink"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "evtcam",
		Short:         "Camera acquisition engine for EVT style GigE Vision devices",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			viper.SetEnvPrefix("EVTCAM")
			viper.AutomaticEnv()
			if configFile != "" {
				viper.SetConfigFile(configFile)
				if err := viper.ReadInConfig(); err != nil {
					return err
				}
			}
			return viper.BindPFlags(cmd.Flags())
		},
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml)")
	root.PersistentFlags().String("backend", "sim", "device backend: sim or v4l2")
	root.PersistentFlags().String("serial", "EVT-SIM-0001", "device serial number")

	root.AddCommand(listCmd(), captureCmd(), serveCmd())
	return root
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Enumerate devices visible to the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			driver, err := newBackend(viper.GetString("backend"))
			if err != nil {
				return err
			}
			devices, err := driver.List()
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Println("no devices found")
				return nil
			}
			for _, d := range devices {
				fmt.Printf("%-20s %-16s %s\n", d.Serial, d.Model, d.Manufacturer)
			}
			return nil
		},
	}
}

func newEngine(out sink.Sink) (*engine.Engine, error) {
	driver, err := newBackend(viper.GetString("backend"))
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{
		Driver:     driver,
		Serial:     viper.GetString("serial"),
		Sink:       out,
		MaxBuffers: viper.GetInt("max-buffers"),
		MaxMemory:  viper.GetInt64("max-memory"),
	})
}

// applyGeometry pushes the flag-selected acquisition settings through the
// same control surface an embedding framework would use.
func applyGeometry(eng *engine.Engine) error {
	writes := []struct {
		name  string
		value int64
		set   bool
	}{
		{engine.CtrlSizeX, viper.GetInt64("width"), viper.IsSet("width")},
		{engine.CtrlSizeY, viper.GetInt64("height"), viper.IsSet("height")},
		{engine.CtrlColorMode, viper.GetInt64("color-mode"), viper.IsSet("color-mode")},
		{engine.CtrlPixelFormat, viper.GetInt64("format-index"), viper.IsSet("format-index")},
		{engine.CtrlFramerate, viper.GetInt64("framerate"), viper.IsSet("framerate")},
	}
	for _, w := range writes {
		if !w.set {
			continue
		}
		if err := eng.WriteInt(w.name, w.value); err != nil {
			return err
		}
	}
	return nil
}

func captureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture frames and write them to a directory as PNG",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := viper.GetString("output")
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}

			done := make(chan struct{})
			count := viper.GetUint64("count")
			png := sink.NewPNGSink(dir)
			var published uint64
			out := sink.FuncSink(func(im *sink.Image) error {
				if err := png.Publish(im); err != nil {
					return err
				}
				fmt.Printf("frame %d (%dx%d %s)\n", im.Sequence, im.Width, im.Height, im.Format)
				published++
				if published >= count {
					close(done)
				}
				return nil
			})

			eng, err := newEngine(out)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.Connect(); err != nil {
				return err
			}
			if err := applyGeometry(eng); err != nil {
				return err
			}
			if count > 1 {
				if err := eng.WriteInt(engine.CtrlImageMode, int64(engine.ImageModeMultiple)); err != nil {
					return err
				}
				if err := eng.WriteInt(engine.CtrlNumImages, int64(count)); err != nil {
					return err
				}
			}

			if err := eng.Start(); err != nil {
				return err
			}

			select {
			case <-done:
			case <-time.After(viper.GetDuration("timeout")):
				return errors.New("timed out waiting for frames")
			}

			// The engine auto-stops in single and multiple mode; give the
			// loop a moment to wind down before Close.
			for i := 0; i < 100 && eng.SnapshotStatus().Running; i++ {
				time.Sleep(10 * time.Millisecond)
			}
			return nil
		},
	}

	cmd.Flags().String("output", "frames", "output directory")
	cmd.Flags().Uint64("count", 1, "number of frames to capture")
	cmd.Flags().Int("width", 0, "frame width (0 = device maximum)")
	cmd.Flags().Int("height", 0, "frame height (0 = device maximum)")
	cmd.Flags().Int("color-mode", 0, "color mode: 0 mono, 1 rgb")
	cmd.Flags().Int("format-index", 0, "pixel format index within the color mode")
	cmd.Flags().Int("framerate", 0, "frames per second")
	cmd.Flags().Duration("timeout", time.Minute, "overall capture deadline")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with an HTTP status and preview endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			// The server doubles as the engine's sink, so bind it late.
			var forward sink.Sink
			out := sink.FuncSink(func(im *sink.Image) error {
				if forward == nil {
					return nil
				}
				return forward.Publish(im)
			})

			eng, err := newEngine(out)
			if err != nil {
				return err
			}
			defer eng.Close()

			srv := server.New(eng, nil)
			forward = srv

			if err := eng.Connect(); err != nil {
				return err
			}
			if err := applyGeometry(eng); err != nil {
				return err
			}
			if err := eng.WriteInt(engine.CtrlImageMode, int64(engine.ImageModeContinuous)); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return srv.Run(ctx, viper.GetString("listen"))
		},
	}

	cmd.Flags().String("listen", ":8080", "HTTP listen address")
	cmd.Flags().Int("width", 0, "frame width (0 = device maximum)")
	cmd.Flags().Int("height", 0, "frame height (0 = device maximum)")
	cmd.Flags().Int("color-mode", 0, "color mode: 0 mono, 1 rgb")
	cmd.Flags().Int("format-index", 0, "pixel format index within the color mode")
	cmd.Flags().Int("framerate", 0, "frames per second")
	return cmd
}
