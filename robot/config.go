package robot

import (
	"errors"
	"fmt"

	"github.com/mastercactapus/xybot/coord"
	"github.com/mastercactapus/xybot/link"
)

// ErrInvalidConfig is returned by ApplyConfig for out-of-range values.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the physical parameters of the robot.
type Config struct {
	// Width and Height of the drawing area in mm.
	Width  float64 `json:"width"`
	Height float64 `json:"height"`

	MotorA link.Direction `json:"motorA"`
	MotorB link.Direction `json:"motorB"`

	// Speed in percent of the firmware maximum.
	Speed int `json:"speed"`

	// PenUp and PenDown are servo positions.
	PenUp   int `json:"penUp"`
	PenDown int `json:"penDown"`

	// LaserBurnDelay is the dwell per step in ms while the laser is on.
	LaserBurnDelay int `json:"laserBurnDelay"`
}

// DefaultConfig returns the factory settings of the XY plotter.
func DefaultConfig() Config {
	return Config{
		Width:   380,
		Height:  310,
		Speed:   50,
		PenUp:   130,
		PenDown: 50,
	}
}

func (c Config) Bounds() coord.Bounds { return coord.Bounds{Width: c.Width, Height: c.Height} }

func (c Config) Validate() error {
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("%w: size %gx%g", ErrInvalidConfig, c.Width, c.Height)
	case !c.MotorA.Valid() || !c.MotorB.Valid():
		return fmt.Errorf("%w: motor direction", ErrInvalidConfig)
	case c.Speed < 0 || c.Speed > 100:
		return fmt.Errorf("%w: speed %d", ErrInvalidConfig, c.Speed)
	case c.PenUp < 0 || c.PenUp > 180 || c.PenDown < 0 || c.PenDown > 180:
		return fmt.Errorf("%w: pen position %d/%d", ErrInvalidConfig, c.PenUp, c.PenDown)
	case c.LaserBurnDelay < 0:
		return fmt.Errorf("%w: burn delay %d", ErrInvalidConfig, c.LaserBurnDelay)
	}
	return nil
}

// Command returns the M5 line that writes c to the device.
func (c Config) Command() link.Command {
	return link.ApplyConfig(c.MotorA, c.MotorB, c.Height, c.Width, c.Speed)
}
