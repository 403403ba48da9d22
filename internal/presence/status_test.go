package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusOnline, StatusAway, StatusOffline, StatusAppearAway, StatusAppearOffline} {
		assert.True(t, s.Valid(), "status %q", s)
	}
	assert.False(t, Status("").Valid())
	assert.False(t, Status("invisible").Valid())
	assert.False(t, Status("ONLINE").Valid())
}

func TestStatusSettable(t *testing.T) {
	assert.True(t, StatusOnline.Settable())
	assert.True(t, StatusAppearAway.Settable())
	assert.True(t, StatusAppearOffline.Settable())

	// 真实的away/offline由系统推导，不允许用户主动设置
	assert.False(t, StatusAway.Settable())
	assert.False(t, StatusOffline.Settable())
	assert.False(t, Status("invisible").Settable())
}

func TestStatusPublic(t *testing.T) {
	// 公开映射对所有合法状态全覆盖，伪装状态脱去appear前缀
	cases := map[Status]Status{
		StatusOnline:        StatusOnline,
		StatusAway:          StatusAway,
		StatusOffline:       StatusOffline,
		StatusAppearAway:    StatusAway,
		StatusAppearOffline: StatusOffline,
	}
	for in, want := range cases {
		assert.Equal(t, want, in.Public(), "status %q", in)
	}

	// 公开状态里绝不出现appear前缀
	for in := range cases {
		pub := in.Public()
		assert.NotEqual(t, StatusAppearAway, pub)
		assert.NotEqual(t, StatusAppearOffline, pub)
	}
}

func TestStatusPresent(t *testing.T) {
	assert.True(t, StatusOnline.Present())
	assert.True(t, StatusAppearAway.Present())
	assert.True(t, StatusAppearOffline.Present())
	assert.False(t, StatusAway.Present())
	assert.False(t, StatusOffline.Present())
}
