package multierror

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/require"
)

func TestAppend(t *testing.T) {
	var err error
	err = Append(err, errors.Errorf("--bl is required unless resuming"))
	require.Error(t, err)
	require.Equal(t, "1 problem:\n  --bl is required unless resuming", err.Error())

	err = Append(err, errors.Errorf("--rcm takes exactly two files"))
	require.Equal(t, "2 problems:\n  --bl is required unless resuming\n  --rcm takes exactly two files", err.Error())
	require.Len(t, Errors(err), 2)
}

func TestAppendToPlainError(t *testing.T) {
	err := Append(errors.Errorf("no devices"), errors.Errorf("SYS: type is required"))
	es := Errors(err)
	require.Len(t, es, 2)
	require.Equal(t, "no devices", es[0].Error())
	require.Equal(t, "SYS: type is required", es[1].Error())
}

func TestAppendFlattensAndDropsNil(t *testing.T) {
	inner := Append(nil, errors.Errorf("a"), errors.Errorf("b"))
	err := Append(errors.Errorf("z"), nil, inner)
	require.Equal(t, []string{"z", "a", "b"}, messages(Errors(err)))

	plain := errors.Errorf("only")
	require.Equal(t, plain, Append(plain, nil))
	require.Nil(t, Append(nil))
}

func TestErrors(t *testing.T) {
	require.Nil(t, Errors(nil))
	e := errors.Errorf("single")
	require.Equal(t, []error{e}, Errors(e))
}

func messages(es []error) []string {
	var out []string
	for _, e := range es {
		out = append(out, e.Error())
	}
	return out
}
