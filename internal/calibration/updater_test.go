package calibration

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeShares(t *testing.T) {
	t.Run("normalizes counts", func(t *testing.T) {
		shares, err := ComputeShares(map[string]int{"car": 80, "pt": 20})
		require.NoError(t, err)
		assert.InDelta(t, 0.8, shares["car"], 1e-12)
		assert.InDelta(t, 0.2, shares["pt"], 1e-12)
	})

	t.Run("keeps zero count modes", func(t *testing.T) {
		shares, err := ComputeShares(map[string]int{"car": 5, "bike": 0})
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{"car": 1, "bike": 0}, shares)
	})

	t.Run("all zero counts", func(t *testing.T) {
		_, err := ComputeShares(map[string]int{"car": 0, "pt": 0})
		assert.ErrorIs(t, err, ErrNoTrips)
	})

	t.Run("empty table", func(t *testing.T) {
		_, err := ComputeShares(nil)
		assert.ErrorIs(t, err, ErrNoTrips)
	})
}

func TestUpdater_Update(t *testing.T) {
	t.Run("target above observed share lowers the constant", func(t *testing.T) {
		u := NewUpdater(map[string]float64{"pt": 1.0}, map[string]float64{"pt": 0.2})
		res, err := u.Update(map[string]float64{"pt": 0.1})
		require.NoError(t, err)
		c, ok := u.Constant("pt")
		require.True(t, ok)
		assert.InDelta(t, 1.0-math.Ln2, c, 1e-12)
		assert.InDelta(t, 0.3069, c, 1e-4)
		assert.Equal(t, []string{"pt"}, res.Updated)
	})

	t.Run("matching share leaves constant unchanged", func(t *testing.T) {
		u := NewUpdater(map[string]float64{"car": -0.5}, map[string]float64{"car": 0.8})
		_, err := u.Update(map[string]float64{"car": 0.8})
		require.NoError(t, err)
		c, _ := u.Constant("car")
		assert.Equal(t, -0.5, c)
	})

	t.Run("target below observed share raises the constant", func(t *testing.T) {
		u := NewUpdater(map[string]float64{"car": 0}, map[string]float64{"car": 0.5})
		_, err := u.Update(map[string]float64{"car": 0.9})
		require.NoError(t, err)
		c, _ := u.Constant("car")
		assert.InDelta(t, math.Log(0.9/0.5), c, 1e-12)
	})

	t.Run("zero observed share is skipped", func(t *testing.T) {
		u := NewUpdater(map[string]float64{"car": 0, "pt": 2}, map[string]float64{"car": 0.8, "pt": 0.2})
		res, err := u.Update(map[string]float64{"car": 1, "pt": 0})
		require.NoError(t, err)
		assert.Equal(t, []string{"pt"}, res.Skipped)
		c, _ := u.Constant("pt")
		assert.Equal(t, 2.0, c)
		assert.False(t, math.IsInf(c, 0))
	})

	t.Run("missing configuration is reported and other modes still update", func(t *testing.T) {
		u := NewUpdater(
			map[string]float64{"car": 0, "pt": 0, "ride": 0},
			map[string]float64{"car": 0.5, "pt": 0.5, "bike": 0.1},
		)
		res, err := u.Update(map[string]float64{"car": 0.25, "pt": 0.25, "bike": 0.25, "ride": 0.25})
		require.Error(t, err)

		var missing *MissingModeError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, []MissingMode{
			{Mode: "bike", NoConstant: true},
			{Mode: "ride", NoTarget: true},
		}, missing.Modes)
		assert.Contains(t, err.Error(), "bike (no constant)")
		assert.Contains(t, err.Error(), "ride (no target share)")

		assert.Equal(t, []string{"car", "pt"}, res.Updated)
		assert.Equal(t, []string{"bike", "ride"}, res.Missing)
		_, ok := u.Constant("bike")
		assert.False(t, ok, "a missing constant must not be defaulted")
		c, _ := u.Constant("car")
		assert.InDelta(t, -math.Log(2), c, 1e-12)
	})

}

func TestUpdater_Copies(t *testing.T) {
	constants := map[string]float64{"car": 1}
	targets := map[string]float64{"car": 0.5}
	u := NewUpdater(constants, targets)
	constants["car"] = 99
	targets["car"] = 0.9

	got := u.Constants()
	assert.Equal(t, 1.0, got["car"])
	got["car"] = 5
	assert.Equal(t, map[string]float64{"car": 1}, u.Constants())
	assert.Equal(t, map[string]float64{"car": 0.5}, u.Targets())

	c, ok := u.Constant("car")
	assert.True(t, ok)
	assert.Equal(t, 1.0, c)
	_, ok = u.Constant("walk")
	assert.False(t, ok)
}
