package di

type stack[T any] []T

func (s *stack[T]) Pop() (T, bool) {
	if len(*s) == 0 {
		return *new(T), false
	}

	i := len(*s) - 1
	item := (*s)[i]
	*s = (*s)[:i]

	return item, true
}

func (s *stack[T]) Push(value T) {
	*s = append(*s, value)
}

func (s stack[T]) Contains(match func(T) bool) bool {
	for _, item := range s {
		if match(item) {
			return true
		}
	}

	return false
}
