package db

// OpKind identifies the kind of operation in a Batch
type OpKind uint8

const (
	OpPut           OpKind = iota // put and clear the expiration of the key
	OpPutKeepTTL                  // put and keep the current expiration of the key
	OpPutWithTTL                  // put with a relative expiration in seconds
	OpPutExpireAt                 // put with an absolute expiration (unix seconds)
	OpPutInheritTTL               // put with the expiration of another key
	OpDelete                      // delete the key
)

func (k OpKind) String() string {
	switch k {
	case OpPut:
		return "Put"
	case OpPutKeepTTL:
		return "PutKeepTTL"
	case OpPutWithTTL:
		return "PutWithTTL"
	case OpPutExpireAt:
		return "PutExpireAt"
	case OpPutInheritTTL:
		return "PutInheritTTL"
	case OpDelete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// BatchOp is a single operation of a Batch
type BatchOp struct {
	Kind  OpKind
	Key   []byte
	Value []byte
	Time  int64  // seconds for OpPutWithTTL, unix seconds for OpPutExpireAt
	Ref   []byte // reference key for OpPutInheritTTL
}

// Batch collects write operations that are applied atomically by KVDB.Write.
// Operations are applied in the order they were added, later operations on
// the same key win. A Batch is not safe for concurrent use.
type Batch struct {
	ops  []BatchOp
	size int
}

// NewBatch creates an empty batch
func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) add(op BatchOp) {
	b.ops = append(b.ops, op)
	b.size += len(op.Key) + len(op.Value)
}

// Put adds a put that clears any expiration of the key
func (b *Batch) Put(key, value []byte) {
	b.add(BatchOp{Kind: OpPut, Key: key, Value: value})
}

// PutKeepTTL adds a put that preserves the current expiration of the key (if any)
func (b *Batch) PutKeepTTL(key, value []byte) {
	b.add(BatchOp{Kind: OpPutKeepTTL, Key: key, Value: value})
}

// PutWithTTL adds a put that expires the key after the given number of seconds
func (b *Batch) PutWithTTL(key, value []byte, seconds int64) {
	b.add(BatchOp{Kind: OpPutWithTTL, Key: key, Value: value, Time: seconds})
}

// PutWithExpireAt adds a put that expires the key at the given unix timestamp (seconds)
func (b *Batch) PutWithExpireAt(key, value []byte, unix int64) {
	b.add(BatchOp{Kind: OpPutExpireAt, Key: key, Value: value, Time: unix})
}

// PutInheritTTL adds a put that copies the expiration of ref.
// If ref has no expiration (or does not exist) the key is stored without expiration.
// Earlier operations on ref in the same batch are taken into account.
func (b *Batch) PutInheritTTL(key, value, ref []byte) {
	b.add(BatchOp{Kind: OpPutInheritTTL, Key: key, Value: value, Ref: ref})
}

// Delete adds a deletion of key
func (b *Batch) Delete(key []byte) {
	b.add(BatchOp{Kind: OpDelete, Key: key})
}

// Ops returns the operations of the batch in insertion order
func (b *Batch) Ops() []BatchOp {
	return b.ops
}

// Len returns the number of operations in the batch
func (b *Batch) Len() int {
	return len(b.ops)
}

// Size returns the sum of all key and value sizes in the batch
func (b *Batch) Size() int {
	return b.size
}

// Reset removes all operations from the batch so it can be reused
func (b *Batch) Reset() {
	b.ops = b.ops[:0]
	b.size = 0
}
