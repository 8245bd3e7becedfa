package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointJSON(t *testing.T) {
	p := Point{Date: d(2022, time.January, 8), Value: 84}

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, `{"date":"2022-01-08","value":84}`, string(data))

	var back Point
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, p, back)
}

func TestPointJSON_FractionalValue(t *testing.T) {
	data, err := json.Marshal(Point{Date: d(2022, time.March, 5), Value: 12.5})
	require.NoError(t, err)
	assert.Equal(t, `{"date":"2022-03-05","value":12.5}`, string(data))
}

func TestLocationSet(t *testing.T) {
	set := NewLocationSet([]Location{
		{Code: "48", Abbreviation: "TX", Name: "Texas"},
		{Code: "US", Abbreviation: "US", Name: "United States"},
		{Code: "06", Abbreviation: "CA", Name: "California"},
	})

	t.Run("resolve by code", func(t *testing.T) {
		l, ok := set.Resolve("06")
		require.True(t, ok)
		assert.Equal(t, "California", l.Name)
	})

	t.Run("resolve by abbreviation, case-insensitive", func(t *testing.T) {
		l, ok := set.Resolve("tx")
		require.True(t, ok)
		assert.Equal(t, "48", l.Code)

		_, ok = set.Resolve(" ca ")
		assert.True(t, ok)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, ok := set.Resolve("ZZ")
		assert.False(t, ok)
	})

	t.Run("contains", func(t *testing.T) {
		assert.True(t, set.Contains("48"))
		assert.False(t, set.Contains("99"))
	})

	t.Run("ordering puts US first", func(t *testing.T) {
		all := set.All()
		require.Len(t, all, 3)
		assert.Equal(t, "US", all[0].Code)
		assert.Equal(t, "06", all[1].Code)
		assert.Equal(t, "48", all[2].Code)
	})

	t.Run("duplicate national rows keep a stable order", func(t *testing.T) {
		dup := NewLocationSet([]Location{
			{Code: "48", Abbreviation: "TX", Name: "Texas"},
			{Code: "US", Abbreviation: "US", Name: "United States"},
			{Code: "US", Abbreviation: "US", Name: "United States"},
		})
		all := dup.All()
		require.Len(t, all, 3)
		assert.Equal(t, "US", all[0].Code)
		assert.Equal(t, "US", all[1].Code)
		assert.Equal(t, "48", all[2].Code)
	})
}

func TestEnumValidity(t *testing.T) {
	assert.True(t, PathogenInfluenza.Valid())
	assert.True(t, PathogenCOVID.Valid())
	assert.False(t, Pathogen("measles").Valid())

	assert.True(t, ResolutionDaily.Valid())
	assert.True(t, ResolutionWeekly.Valid())
	assert.False(t, Resolution("monthly").Valid())

	assert.True(t, MissingAsZero.Valid())
	assert.True(t, MissingDrop.Valid())
	assert.False(t, MissingPolicy("ignore").Valid())
}
