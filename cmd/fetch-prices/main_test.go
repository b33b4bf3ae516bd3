package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energy_prices/internal/model"
)

func TestParseYears(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []int
	}{
		{"single", "2023", []int{2023}},
		{"list", "2020, 2023", []int{2020, 2023}},
		{"range", "2015-2018", []int{2015, 2016, 2017, 2018}},
		{"mixed with overlap", "2022-2024,2023,2026", []int{2022, 2023, 2024, 2026}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseYears(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseYears_Invalid(t *testing.T) {
	for _, input := range []string{"", "twenty", "2024-2020", "2020-", ","} {
		_, err := parseYears(input)
		assert.Error(t, err, input)
	}
}

func TestParseKinds(t *testing.T) {
	kinds, err := parseKinds("DA, imbalance")
	require.NoError(t, err)
	assert.Equal(t, []model.Kind{model.KindDayAhead, model.KindImbalance}, kinds)

	_, err = parseKinds("intraday")
	assert.Error(t, err)

	_, err = parseKinds("")
	assert.Error(t, err)
}
