package lifecycle

import "errors"

var (
	// ErrWrongState is returned when an operation is attempted on an order
	// whose status does not admit it.
	ErrWrongState = errors.New("operation not valid in current order state")
	// ErrWrongResolver is returned when a caller other than the committed
	// resolver drives a committed order.
	ErrWrongResolver = errors.New("caller is not the committed resolver")
	// ErrDuplicateOrder is returned when an already-admitted intent is
	// submitted again.
	ErrDuplicateOrder = errors.New("order already exists")
	// ErrHashMismatch is returned when the submitted preimage does not hash
	// to the intent's secret hash.
	ErrHashMismatch = errors.New("preimage does not match secret hash")
	// ErrIntentExpired is returned when the signed intent's deadline has
	// already passed at submission time.
	ErrIntentExpired = errors.New("intent deadline passed")
	// ErrOrderExpired is returned when an order past its expiry is acted on,
	// whether or not the reaper has swept it yet.
	ErrOrderExpired = errors.New("order expired")
	// ErrUnderfunded is returned when an escrow balance is below what the
	// protocol requires at that point of the lifecycle.
	ErrUnderfunded = errors.New("escrow underfunded")
	// ErrSecretNotRevealed is returned from the secret status query before
	// the on-chain reveal has happened.
	ErrSecretNotRevealed = errors.New("secret not yet revealed")
)
