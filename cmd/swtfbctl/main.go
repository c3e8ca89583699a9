// Command swtfbctl talks to swtfb-server as a producer: it announces
// regions, waits for the panel, paints test patterns and dumps the shared
// surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io/fs"
	"os"
	"time"

	"swtfb/internal/client"
	"swtfb/internal/config"
	"swtfb/internal/convert"
	"swtfb/internal/ipc"
	"swtfb/internal/model"
	"swtfb/internal/surface"

	appLog "swtfb/internal/log"
)

const usage = `usage: swtfbctl [-config path] <command> [flags]

commands:
  update  -x -y -w -h -waveform -mode    send a legacy region update
  coord   -x1 -y1 -x2 -y2 -waveform -flags  send a hardware update
  wait    -timeout                       wait until the last update is on the panel
  fill    -x -y -w -h -gray -waveform -mode  paint a gray rectangle and update it
  dump    -o file.png                    write the shared surface as PNG
`

func main() {
	configPath := flag.String("config", "/etc/swtfb/config.yaml", "Path to config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	conf, err := loadConfig(*configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", *configPath)
		os.Exit(1)
	}

	ctx := context.Background()
	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "update":
		err = runUpdate(ctx, conf, args)
	case "coord":
		err = runCoord(ctx, conf, args)
	case "wait":
		err = runWait(ctx, conf, args)
	case "fill":
		err = runFill(ctx, conf, args)
	case "dump":
		err = runDump(conf, args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		appLog.Error(cmd+" failed", err)
		os.Exit(1)
	}
}

// loadConfig reads the server config if present; unlike the server, a
// missing file is not created.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func newClient(conf *config.Config) (*client.Client, error) {
	q, err := ipc.OpenQueue(conf.QueueKey)
	if err != nil {
		return nil, err
	}
	return client.New(q, conf.SemDir), nil
}

type regionFlags struct {
	x, y, w, h int
	waveform   int
	mode       uint
}

func (r *regionFlags) register(set *flag.FlagSet, conf *config.Config) {
	set.IntVar(&r.x, "x", 0, "left")
	set.IntVar(&r.y, "y", 0, "top")
	set.IntVar(&r.w, "w", conf.Width, "width")
	set.IntVar(&r.h, "h", conf.Height, "height")
	set.IntVar(&r.waveform, "waveform", model.WaveformGL16, "legacy waveform mode (0,1,2,3,8)")
	set.UintVar(&r.mode, "mode", model.UpdateModeFull, "update mode: 0 partial, 1 full")
}

func (r *regionFlags) region() model.Region {
	return model.Region{Left: r.x, Top: r.y, Width: r.w, Height: r.h}
}

func runUpdate(ctx context.Context, conf *config.Config, args []string) error {
	set := flag.NewFlagSet("update", flag.ExitOnError)
	var rf regionFlags
	rf.register(set, conf)
	set.Parse(args)

	c, err := newClient(conf)
	if err != nil {
		return err
	}
	return c.Update(ctx, model.LegacyUpdate{
		Region:       rf.region(),
		WaveformMode: int32(rf.waveform),
		UpdateMode:   uint32(rf.mode),
	})
}

func runCoord(ctx context.Context, conf *config.Config, args []string) error {
	set := flag.NewFlagSet("coord", flag.ExitOnError)
	x1 := set.Int("x1", 0, "left, inclusive")
	y1 := set.Int("y1", 0, "top, inclusive")
	x2 := set.Int("x2", conf.Width-1, "right, inclusive")
	y2 := set.Int("y2", conf.Height-1, "bottom, inclusive")
	wf := set.Int("waveform", model.WaveformGC16, "hardware waveform")
	flags := set.Int("flags", int(model.FlagFull), "hardware flags")
	set.Parse(args)

	if *x2 < *x1 || *y2 < *y1 {
		return fmt.Errorf("empty region (%d,%d)-(%d,%d)", *x1, *y1, *x2, *y2)
	}
	c, err := newClient(conf)
	if err != nil {
		return err
	}
	return c.SendCoord(ctx, model.CoordUpdate{
		X1: int32(*x1), Y1: int32(*y1), X2: int32(*x2), Y2: int32(*y2),
		Waveform: int32(*wf),
		Flags:    int32(*flags),
	})
}

func runWait(ctx context.Context, conf *config.Config, args []string) error {
	set := flag.NewFlagSet("wait", flag.ExitOnError)
	timeout := set.Duration("timeout", client.DefaultWaitTimeout, "give up after this long")
	set.Parse(args)

	c, err := newClient(conf)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	start := time.Now()
	if err := c.WaitForLastUpdate(ctx); err != nil {
		return err
	}
	appLog.Info("last update complete", "waited", time.Since(start))
	return nil
}

func runFill(ctx context.Context, conf *config.Config, args []string) error {
	set := flag.NewFlagSet("fill", flag.ExitOnError)
	var rf regionFlags
	rf.register(set, conf)
	gray := set.Uint("gray", 0xff, "8-bit gray level")
	set.Parse(args)

	surf, err := surface.Open(conf.ShmDir, conf.ShmName, conf.Width, conf.Height)
	if err != nil {
		return err
	}
	defer surf.Close()
	c, err := newClient(conf)
	if err != nil {
		return err
	}

	g := uint16(*gray & 0xff)
	col := surface.RGB565((g>>3)<<11 | (g>>2)<<5 | g>>3)
	return c.Paint(ctx, surf, int32(rf.waveform), uint32(rf.mode), func(img draw.Image) model.Region {
		r := rf.region()
		draw.Draw(img, r.Rect(), image.NewUniform(col), image.Point{}, draw.Src)
		return r
	})
}

func runDump(conf *config.Config, args []string) error {
	set := flag.NewFlagSet("dump", flag.ExitOnError)
	out := set.String("o", "surface.png", "output PNG path")
	set.Parse(args)

	surf, err := surface.Open(conf.ShmDir, conf.ShmName, conf.Width, conf.Height)
	if err != nil {
		return err
	}
	defer surf.Close()

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := png.Encode(f, convert.ToNRGBA(surf, surf.Bounds())); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
