package node

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx"

	"github.com/rentstore/rentstore/node/config"
)

type testIface interface {
	Name() string
}

type testImpl struct{ name string }

func (t *testImpl) Name() string { return t.name }

func TestAsValue(t *testing.T) {
	ctor := as(&testImpl{name: "v"}, new(testIface))

	out := reflect.ValueOf(ctor).Call(nil)
	require.Len(t, out, 1)
	require.Equal(t, "v", out[0].Interface().(testIface).Name())
}

func TestAsConstructor(t *testing.T) {
	ctor := as(func(name string) (*testImpl, error) {
		return &testImpl{name: name}, nil
	}, new(testIface))

	ft := reflect.TypeOf(ctor)
	require.Equal(t, reflect.TypeOf((*testIface)(nil)).Elem(), ft.Out(0))
	require.Equal(t, reflect.TypeOf((*error)(nil)).Elem(), ft.Out(1))

	out := reflect.ValueOf(ctor).Call([]reflect.Value{reflect.ValueOf("c")})
	require.Equal(t, "c", out[0].Interface().(testIface).Name())
	require.True(t, out[1].IsNil())
}

func TestOverrideUnset(t *testing.T) {
	s := &Settings{
		modules: map[interface{}]fx.Option{},
		invokes: make([]fx.Option, _nInvokes),
	}
	ifaceType := reflect.TypeOf((*testIface)(nil)).Elem()

	require.NoError(t, Override(new(testIface), &testImpl{})(s))
	require.Contains(t, s.modules, ifaceType)
	require.NoError(t, Override(RunEngineKey, func() {})(s))
	require.NotNil(t, s.invokes[RunEngineKey])

	require.NoError(t, Unset(new(testIface))(s))
	require.NotContains(t, s.modules, ifaceType)
	require.NoError(t, Unset(RunEngineKey)(s))
	require.Nil(t, s.invokes[RunEngineKey])
}

func TestOptionOrdering(t *testing.T) {
	_, err := New(context.Background(), Config(config.DefaultNode()), Online())
	require.ErrorContains(t, err, "the Online option must be set before Config option")
}
