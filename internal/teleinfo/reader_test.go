package teleinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	key, value, err := parseLine("PAPP 00750 *")

	require.NoError(t, err)
	assert.Equal(t, "PAPP", key)
	assert.Equal(t, "00750", value)
}

func TestParseLine_MultiFieldValue(t *testing.T) {
	key, value, err := parseLine("EASF01     021456863       E")

	require.NoError(t, err)
	assert.Equal(t, "EASF01", key)
	assert.Equal(t, "021456863", value)
}

func TestParseLine_TooShort(t *testing.T) {
	key, _, err := parseLine("AB")

	require.NoError(t, err)
	assert.Equal(t, "", key)
}

func TestParseLine_Malformed(t *testing.T) {
	_, _, err := parseLine("PAPP*")
	assert.Error(t, err)
}

func TestApparentPower(t *testing.T) {
	watts, ok := apparentPower("PAPP", "00750")
	assert.True(t, ok)
	assert.Equal(t, 750.0, watts)

	watts, ok = apparentPower("SINSTS", "01230")
	assert.True(t, ok)
	assert.Equal(t, 1230.0, watts)
}

func TestApparentPower_OtherFieldsIgnored(t *testing.T) {
	_, ok := apparentPower("EASF01", "021456863")
	assert.False(t, ok)
}

func TestApparentPower_BadValue(t *testing.T) {
	_, ok := apparentPower("PAPP", "not-a-number")
	assert.False(t, ok)
}
