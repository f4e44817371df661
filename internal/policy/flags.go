package policy

import (
	"flag"

	"github.com/pkg/errors"
)

// Smoothers lists the smoother names accepted by Config.
var Smoothers = []string{"none", "adagrad", "rmsprop"}

// Config is the command line form of a Policy.
type Config struct {
	Gamma    float64
	Decay    float64
	Momentum float64
	Nesterov bool
	Smoother string
	L1       float64
	Lo, Hi   float64
}

// DefaultConfig is a constant step of 0.1 with no boosting, smoothing or
// regularization.
func DefaultConfig() Config {
	return Config{Gamma: 0.1, Smoother: "none"}
}

// RegisterFlags binds c to command line flags, using its values as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.Float64Var(&c.Gamma, "gamma", c.Gamma, "step size")
	fs.Float64Var(&c.Decay, "decay", c.Decay, "step decay: gamma/sqrt(1+decay*k); 0 keeps the step constant")
	fs.Float64Var(&c.Momentum, "momentum", c.Momentum, "heavy-ball momentum coefficient; 0 disables boosting")
	fs.BoolVar(&c.Nesterov, "nesterov", c.Nesterov, "use Nesterov momentum instead of heavy-ball")
	fs.StringVar(&c.Smoother, "smoother", c.Smoother, "gradient smoother: none, adagrad or rmsprop")
	fs.Float64Var(&c.L1, "l1", c.L1, "L1 regularization weight")
	fs.Float64Var(&c.Lo, "box_lo", c.Lo, "lower bound of the box constraint, used when box_lo < box_hi")
	fs.Float64Var(&c.Hi, "box_hi", c.Hi, "upper bound of the box constraint, used when box_lo < box_hi")
}

// Build assembles the Policy described by c. Every call returns fresh
// stateful members, so policies built from one Config never share buffers.
func (c Config) Build() (Policy, error) {
	var p Policy
	if c.Gamma <= 0 {
		return p, errors.Errorf("step size must be positive, got %g", c.Gamma)
	}
	if c.Decay < 0 {
		return p, errors.Errorf("step decay must not be negative, got %g", c.Decay)
	}
	if c.Decay > 0 {
		p.Stepper = DecreasingStep{Gamma: c.Gamma, Decay: c.Decay}
	} else {
		p.Stepper = ConstantStep{Gamma: c.Gamma}
	}

	switch {
	case c.Momentum < 0 || c.Momentum >= 1:
		return p, errors.Errorf("momentum must be in [0, 1), got %g", c.Momentum)
	case c.Momentum > 0 && c.Nesterov:
		p.Booster = &Nesterov{Beta: c.Momentum}
	case c.Momentum > 0:
		p.Booster = &Momentum{Beta: c.Momentum}
	}

	switch c.Smoother {
	case "", "none":
	case "adagrad":
		p.Smoother = &Adagrad{Epsilon: 1e-8}
	case "rmsprop":
		p.Smoother = &RMSProp{Decay: 0.9, Epsilon: 1e-8}
	default:
		return p, errors.Errorf("unknown smoother %q, valid values are %q", c.Smoother, Smoothers)
	}

	switch {
	case c.L1 < 0:
		return p, errors.Errorf("L1 weight must not be negative, got %g", c.L1)
	case c.L1 > 0 && c.Lo < c.Hi:
		return p, errors.New("L1 regularization and box constraint are exclusive")
	case c.L1 > 0:
		p.Proxer = L1{Lambda: c.L1}
	case c.Lo < c.Hi:
		p.Proxer = Box{Lo: c.Lo, Hi: c.Hi}
	}
	return p.WithDefaults(), nil
}
