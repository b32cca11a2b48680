package channel

// Broadcast fans a single result out to every subscribed receiver.
// Receivers subscribed after resolution observe the stored result at once.
type Broadcast[T any] struct {
	subs     []*Sender[T]
	resolved bool
	result   Result[T]
}

// NewBroadcast creates an unresolved broadcast.
func NewBroadcast[T any]() *Broadcast[T] {
	return &Broadcast[T]{}
}

// Subscribe returns a new receiver for the broadcast result.
func (b *Broadcast[T]) Subscribe() *Receiver[T] {
	if b.resolved {
		return Resolved(b.result)
	}
	tx, rx := New[T]()
	b.subs = append(b.subs, tx)
	return rx
}

// Send resolves every live subscriber with v and returns how many received it.
func (b *Broadcast[T]) Send(v T) int {
	return b.Deliver(Result[T]{Value: v})
}

// Deliver resolves every live subscriber with r. Subsequent calls are ignored.
func (b *Broadcast[T]) Deliver(r Result[T]) int {
	if b.resolved {
		return 0
	}
	b.resolved = true
	b.result = r

	n := 0
	for i, tx := range b.subs {
		if tx.Deliver(r) == nil {
			n++
		}
		b.subs[i] = nil
	}
	b.subs = nil
	return n
}

// Resolved reports whether Deliver or Send already ran.
func (b *Broadcast[T]) Resolved() bool {
	return b.resolved
}

// Live returns the number of subscribers that have not dropped their receiver.
func (b *Broadcast[T]) Live() int {
	n := 0
	for _, tx := range b.subs {
		if !tx.Closed() {
			n++
		}
	}
	return n
}
