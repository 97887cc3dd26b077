package decoder

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logLine struct {
	Level string `json:"level"`
	Msg   string `json:"msg"`
}

func TestJSON_Decode(t *testing.T) {
	got, err := JSON[logLine]{}.Decode([]byte(`{"level":"info","msg":"hello","extra":1}`))
	require.NoError(t, err)
	assert.Equal(t, logLine{Level: "info", Msg: "hello"}, got)
}

func TestJSON_StrictRejectsUnknownFields(t *testing.T) {
	_, err := JSON[logLine]{Strict: true}.Decode([]byte(`{"level":"info","extra":1}`))
	require.Error(t, err)
}

func TestJSON_RejectsEmptyAndTrailingData(t *testing.T) {
	_, err := JSON[logLine]{}.Decode([]byte("  \n"))
	require.Error(t, err)

	_, err = JSON[logLine]{}.Decode([]byte(`{"level":"a"} {"level":"b"}`))
	require.Error(t, err)
}

func TestJSON_IsDeterministic(t *testing.T) {
	data := []byte(`{"level":"warn","msg":"x"}`)
	d := JSON[logLine]{}

	a, errA := d.Decode(data)
	b, errB := d.Decode(data)
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, a, b)
}

func TestFunc_Decode(t *testing.T) {
	sentinel := errors.New("nope")
	f := Func[int](func(data []byte) (int, error) {
		if len(data) == 0 {
			return 0, sentinel
		}
		return len(data), nil
	})

	n, err := f.Decode([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = f.Decode(nil)
	assert.ErrorIs(t, err, sentinel)
}
