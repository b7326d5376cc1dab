package try_test

import (
	"errors"
	"testing"

	"github.com/opst/modelsync/pkg/utils/try"
)

type fataler struct {
	fatal  [][]any
	helper int
}

func (f *fataler) Fatal(args ...any) {
	f.fatal = append(f.fatal, args)
}

func (f *fataler) Helper() {
	f.helper += 1
}

func TestTry(t *testing.T) {
	t.Run("when it does not have error, it returns the value without Fatal", func(t *testing.T) {
		f := &fataler{}
		if actual := try.To(42, nil).OrFatal(f); actual != 42 {
			t.Errorf("unexpected value: %d", actual)
		}
		if len(f.fatal) != 0 || f.helper != 0 {
			t.Errorf("unexpected calls: %+v", f)
		}
		if actual := try.To(42, nil).OrDefault(7); actual != 42 {
			t.Errorf("unexpected value: %d", actual)
		}
	})

	t.Run("when it has error, it calls Helper and Fatal", func(t *testing.T) {
		f := &fataler{}
		expected := errors.New("fake error")
		if actual := try.To(42, expected).OrFatal(f); actual != 0 {
			t.Errorf("unexpected value: %d", actual)
		}
		if len(f.fatal) != 1 || f.fatal[0][0] != expected || f.helper != 1 {
			t.Errorf("unexpected calls: %+v", f)
		}
		if actual := try.To(42, expected).OrDefault(7); actual != 7 {
			t.Errorf("unexpected value: %d", actual)
		}
	})
}
