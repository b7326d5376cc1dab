package try

// Fataler is something which can stop the process or test with an error.
//
// *testing.T and *log.Logger satisfy this.
type Fataler interface {
	Fatal(...any)
}

// Either wraps a (value, error) pair.
type Either[T any] interface {
	Get() (T, error)

	// OrFatal returns the value, or calls ftl.Fatal with the error.
	//
	// If ftl has "Helper()" (like *testing.T), it is called before Fatal.
	OrFatal(ftl Fataler) T

	// OrDefault returns the value, or d when there is an error.
	OrDefault(d T) T
}

func To[T any](ok T, ng error) Either[T] {
	if ng == nil {
		return good[T]{ok}
	}
	return bad[T]{ng}
}

type good[T any] struct{ value T }

func (g good[T]) Get() (T, error) { return g.value, nil }
func (g good[T]) OrFatal(Fataler) T { return g.value }
func (g good[T]) OrDefault(d T) T { return g.value }

type bad[T any] struct{ err error }

func (b bad[T]) Get() (T, error) { return *new(T), b.err }
func (b bad[T]) OrDefault(d T) T { return d }

func (b bad[T]) OrFatal(ftl Fataler) T {
	if h, ok := ftl.(interface{ Helper() }); ok {
		h.Helper()
	}
	ftl.Fatal(b.err)
	return *new(T)
}
