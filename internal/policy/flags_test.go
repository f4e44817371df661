package policy

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigBuild(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    Policy
		wantErr string
	}{
		{
			name: "defaults",
			cfg:  DefaultConfig(),
			want: Policy{Booster: NoBoost{}, Smoother: NoSmooth{}, Stepper: ConstantStep{Gamma: 0.1}, Proxer: NoProx{}},
		},
		{
			name: "decreasing step with heavy ball and L1",
			cfg:  Config{Gamma: 1, Decay: 0.5, Momentum: 0.9, L1: 0.01},
			want: Policy{Booster: &Momentum{Beta: 0.9}, Smoother: NoSmooth{}, Stepper: DecreasingStep{Gamma: 1, Decay: 0.5}, Proxer: L1{Lambda: 0.01}},
		},
		{
			name: "nesterov with adagrad and box",
			cfg:  Config{Gamma: 1, Momentum: 0.5, Nesterov: true, Smoother: "adagrad", Lo: -1, Hi: 1},
			want: Policy{Booster: &Nesterov{Beta: 0.5}, Smoother: &Adagrad{Epsilon: 1e-8}, Stepper: ConstantStep{Gamma: 1}, Proxer: Box{Lo: -1, Hi: 1}},
		},
		{
			name: "rmsprop",
			cfg:  Config{Gamma: 1, Smoother: "rmsprop"},
			want: Policy{Booster: NoBoost{}, Smoother: &RMSProp{Decay: 0.9, Epsilon: 1e-8}, Stepper: ConstantStep{Gamma: 1}, Proxer: NoProx{}},
		},
		{name: "zero step", cfg: Config{}, wantErr: "step size"},
		{name: "negative decay", cfg: Config{Gamma: 1, Decay: -1}, wantErr: "decay"},
		{name: "momentum of one", cfg: Config{Gamma: 1, Momentum: 1}, wantErr: "momentum"},
		{name: "unknown smoother", cfg: Config{Gamma: 1, Smoother: "adam"}, wantErr: "unknown smoother"},
		{name: "negative L1", cfg: Config{Gamma: 1, L1: -1}, wantErr: "L1"},
		{name: "L1 and box", cfg: Config{Gamma: 1, L1: 1, Lo: 0, Hi: 1}, wantErr: "exclusive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.cfg.Build()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p)
		})
	}
}

func TestConfigBuildReturnsFreshState(t *testing.T) {
	cfg := Config{Gamma: 1, Momentum: 0.5}
	a, err := cfg.Build()
	require.NoError(t, err)
	b, err := cfg.Build()
	require.NoError(t, err)

	g := []float64{1}
	a.Booster.Boost(0, 0, 0, g)
	a.Booster.Boost(0, 0, 0, g)

	fresh := []float64{1}
	b.Booster.Boost(0, 0, 0, fresh)
	assert.Equal(t, []float64{1}, fresh)
}

func TestConfigRegisterFlags(t *testing.T) {
	cfg := DefaultConfig()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"-gamma=0.5", "-momentum=0.9", "-nesterov", "-smoother=rmsprop", "-l1=0.1"}))

	assert.Equal(t, Config{Gamma: 0.5, Momentum: 0.9, Nesterov: true, Smoother: "rmsprop", L1: 0.1}, cfg)
}
