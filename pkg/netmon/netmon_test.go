package netmon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestMonitor_FirstPathEstablishesEpochZero(t *testing.T) {
	m := NewMonitor(zaptest.NewLogger(t))
	m.SetPath(Path{Interface: "wifi", Online: true})

	assert.EqualValues(t, 0, m.Epoch())
	assert.True(t, m.Online())
}

func TestMonitor_ChangesIncrementEpoch(t *testing.T) {
	m := NewMonitor(zaptest.NewLogger(t))
	m.SetPath(Path{Interface: "wifi", PrimaryAddr: "10.0.0.2", Online: true})

	// Same path again: no new epoch.
	m.SetPath(Path{Interface: "wifi", PrimaryAddr: "10.0.0.2", Online: true})
	assert.EqualValues(t, 0, m.Epoch())

	m.SetPath(Path{Interface: "cellular", PrimaryAddr: "100.64.0.7", Online: true})
	assert.EqualValues(t, 1, m.Epoch())

	m.SetPath(Path{Interface: "cellular", PrimaryAddr: "100.64.0.7", VPN: true, Online: true})
	assert.EqualValues(t, 2, m.Epoch())

	m.SetPath(Path{Interface: "cellular", PrimaryAddr: "100.64.0.7", VPN: true, Online: false})
	assert.EqualValues(t, 3, m.Epoch())
	assert.False(t, m.Online())
}

func TestMonitor_CallbacksFireOnChange(t *testing.T) {
	m := NewMonitor(zaptest.NewLogger(t))

	var epochs []int64
	m.OnChange(func(epoch int64, online bool) {
		epochs = append(epochs, epoch)
	})

	m.SetPath(Path{Interface: "wifi", Online: true})
	assert.Empty(t, epochs, "establishing epoch 0 is not a change")

	m.SetPath(Path{Interface: "cellular", Online: true})
	m.SetPath(Path{Interface: "wifi", Online: true})
	assert.Equal(t, []int64{1, 2}, epochs)
}
