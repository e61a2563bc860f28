package vm

import "fmt"

// Options holds the tuning parameters of a Runtime. None of them affect
// program results, only when collections happen and where limits are hit.
type Options struct {
	// Heap
	YoungSize       int // bytes in the nursery before a minor collection
	InitialOldSize  int // old generation bytes that trigger the first full collection
	MaxHeapSize     int // hard ceiling for young plus old bytes
	LargeObjectSize int // cells at least this large are allocated old
	PromotionAge    int // minor collections survived before promotion
	VerifyHeap      bool

	// Object model
	PolymorphicLimit    int // inline cache entries before going megamorphic
	DictionaryThreshold int // named properties before an object leaves shared shapes
	SparseGap           int // index distance past capacity that forces sparse storage

	// Execution
	StackSize      int // registers in the register stack
	MaxFrames      int
	MaxNativeDepth int // nested host-to-script reentries
}

// DefaultOptions returns the configuration used when none is supplied.
func DefaultOptions() Options {
	return Options{
		YoungSize:           256 << 10,
		InitialOldSize:      4 << 20,
		MaxHeapSize:         512 << 20,
		LargeObjectSize:     32 << 10,
		PromotionAge:        2,
		PolymorphicLimit:    6,
		DictionaryThreshold: 64,
		SparseGap:           1024,
		StackSize:           1 << 18,
		MaxFrames:           10000,
		MaxNativeDepth:      256,
	}
}

// Validate checks the relations the heap relies on.
func (o Options) Validate() error {
	switch {
	case o.YoungSize <= 0:
		return fmt.Errorf("young size must be positive, got %d", o.YoungSize)
	case o.LargeObjectSize <= 0 || o.LargeObjectSize > o.YoungSize:
		return fmt.Errorf("large object size %d must be in (0, young size %d]", o.LargeObjectSize, o.YoungSize)
	case o.MaxHeapSize < 2*o.YoungSize:
		return fmt.Errorf("max heap size %d must be at least twice the young size %d", o.MaxHeapSize, o.YoungSize)
	case o.InitialOldSize <= 0:
		return fmt.Errorf("initial old size must be positive, got %d", o.InitialOldSize)
	case o.PromotionAge < 1:
		return fmt.Errorf("promotion age must be at least 1, got %d", o.PromotionAge)
	case o.PolymorphicLimit < 1:
		return fmt.Errorf("polymorphic limit must be at least 1, got %d", o.PolymorphicLimit)
	case o.DictionaryThreshold < 1:
		return fmt.Errorf("dictionary threshold must be at least 1, got %d", o.DictionaryThreshold)
	case o.SparseGap < 0:
		return fmt.Errorf("sparse gap must not be negative, got %d", o.SparseGap)
	case o.StackSize < 64:
		return fmt.Errorf("stack size must be at least 64 registers, got %d", o.StackSize)
	case o.MaxFrames < 1:
		return fmt.Errorf("max frames must be at least 1, got %d", o.MaxFrames)
	case o.MaxNativeDepth < 1:
		return fmt.Errorf("max native depth must be at least 1, got %d", o.MaxNativeDepth)
	}
	return nil
}
