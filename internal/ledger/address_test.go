package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	addrA = "ZKLYCEWKDO64V6WCGGZZUI64JWTYN37YCR6E44VZQB3YLL7OJC53HXOGMM"
	addrB = "HYR6QFQAHFMUUM4JJ5SWJYNRGSF326QARDKCYSWLOPXK5VM4ACO7NUA6YM"
)

func TestValidAddress(t *testing.T) {
	assert.True(t, ValidAddress(addrA))
	assert.True(t, ValidAddress(addrB))

	assert.False(t, ValidAddress(""))
	assert.False(t, ValidAddress(addrA[:57]))
	assert.False(t, ValidAddress("ZKLYCEWKDO64V6WCGGZZUI64JWTYN37YCR6E44VZQB3YLL7OJC53HXOGMA"), "checksum")
	assert.False(t, ValidAddress("zklycewkdo64v6wcggzzui64jwtyn37ycr6e44vzqb3yll7ojc53hxogmm"), "lowercase")
}
