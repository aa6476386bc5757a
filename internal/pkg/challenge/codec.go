package challenge

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/vreid/challenger/internal/pkg/host"
)

const (
	MaxAssetPairLen = 50

	DiscriminatorSize = 8

	// CreatorOffset is where the creator key starts inside account data.
	CreatorOffset = DiscriminatorSize

	AccountSize = DiscriminatorSize +
		solana.PublicKeyLength + // creator
		1 + solana.PublicKeyLength + // acceptor
		8 + // amount
		4 + MaxAssetPairLen + // asset_pair
		1 + // status
		1 + 8 + // start_time
		1 + 8 + // end_time
		1 + 8 + // creator_entry_price
		1 + 8 + // acceptor_entry_price
		1 + solana.PublicKeyLength // winner
)

const (
	CreateChallengeInstruction = "create_challenge"
	AcceptChallengeInstruction = "accept_challenge"
)

var AccountDiscriminator = func() []byte {
	sum := sha256.Sum256([]byte("account:Challenge"))

	return sum[:DiscriminatorSize]
}()

// EncodeAccount lays c out in its fixed-size slot. Absent options keep their
// space zeroed so every field stays at a fixed offset.
func EncodeAccount(c *Challenge) ([]byte, error) {
	if len(c.AssetPair) > MaxAssetPairLen {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrAssetPairTooLong, len(c.AssetPair), MaxAssetPairLen)
	}

	if !c.Status.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatus, c.Status)
	}

	buf := new(bytes.Buffer)
	buf.Grow(AccountSize)

	w := &accountWriter{enc: bin.NewBorshEncoder(buf)}

	w.bytes(AccountDiscriminator)
	w.bytes(c.Creator[:])
	w.optionKey(c.Acceptor)
	w.u64(c.Amount)
	//nolint:gosec // bounded by MaxAssetPairLen
	w.u32(uint32(len(c.AssetPair)))
	w.bytes([]byte(c.AssetPair))
	w.bytes(make([]byte, MaxAssetPairLen-len(c.AssetPair)))
	w.u8(uint8(c.Status))
	w.optionI64(c.StartTime)
	w.optionI64(c.EndTime)
	w.optionU64(c.CreatorEntryPrice)
	w.optionU64(c.AcceptorEntryPrice)
	w.optionKey(c.Winner)

	if w.err != nil {
		return nil, fmt.Errorf("failed to encode challenge: %w", w.err)
	}

	return buf.Bytes(), nil
}

//nolint:cyclop
func DecodeAccount(data []byte) (*Challenge, error) {
	if len(data) != AccountSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidAccountLength, len(data), AccountSize)
	}

	if !bytes.Equal(data[:DiscriminatorSize], AccountDiscriminator) {
		return nil, ErrDiscriminatorMismatch
	}

	r := &accountReader{dec: bin.NewBorshDecoder(data[DiscriminatorSize:])}

	c := &Challenge{}

	copy(c.Creator[:], r.bytes(solana.PublicKeyLength))
	c.Acceptor = r.optionKey()
	c.Amount = r.u64()

	assetPairLen := int(r.u32())
	assetPair := r.bytes(MaxAssetPairLen)

	if r.err == nil && assetPairLen > MaxAssetPairLen {
		return nil, fmt.Errorf("%w: stored length %d", ErrAssetPairTooLong, assetPairLen)
	}

	if r.err == nil {
		c.AssetPair = string(assetPair[:assetPairLen])
	}

	c.Status = Status(r.u8())
	c.StartTime = r.optionI64()
	c.EndTime = r.optionI64()
	c.CreatorEntryPrice = r.optionU64()
	c.AcceptorEntryPrice = r.optionU64()
	c.Winner = r.optionKey()

	if r.err != nil {
		return nil, fmt.Errorf("failed to decode challenge: %w", r.err)
	}

	if !c.Status.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatus, c.Status)
	}

	return c, nil
}

func CreateInstruction(req CreateRequest) host.Instruction {
	buf := new(bytes.Buffer)
	w := &accountWriter{enc: bin.NewBorshEncoder(buf)}

	w.bytes(host.Discriminator(CreateChallengeInstruction))
	w.u64(req.Amount)
	//nolint:gosec
	w.u32(uint32(len(req.AssetPair)))
	w.bytes([]byte(req.AssetPair))
	w.u64(req.DurationSeconds)

	return host.Instruction{
		Data:     buf.Bytes(),
		Accounts: []solana.PublicKey{req.Challenge, req.Creator},
	}
}

func AcceptInstruction(address solana.PublicKey, req AcceptRequest) host.Instruction {
	return host.Instruction{
		Data:     host.Discriminator(AcceptChallengeInstruction),
		Accounts: []solana.PublicKey{address, req.Acceptor, req.Creator},
	}
}

type accountWriter struct {
	enc *bin.Encoder
	err error
}

func (w *accountWriter) bytes(b []byte) {
	if w.err == nil {
		w.err = w.enc.WriteBytes(b, false)
	}
}

func (w *accountWriter) u8(v uint8) {
	if w.err == nil {
		w.err = w.enc.WriteUint8(v)
	}
}

func (w *accountWriter) u32(v uint32) {
	if w.err == nil {
		w.err = w.enc.WriteUint32(v, binary.LittleEndian)
	}
}

func (w *accountWriter) u64(v uint64) {
	if w.err == nil {
		w.err = w.enc.WriteUint64(v, binary.LittleEndian)
	}
}

func (w *accountWriter) i64(v int64) {
	if w.err == nil {
		w.err = w.enc.WriteInt64(v, binary.LittleEndian)
	}
}

func (w *accountWriter) optionKey(k *solana.PublicKey) {
	if k == nil {
		w.u8(0)
		w.bytes(make([]byte, solana.PublicKeyLength))

		return
	}

	w.u8(1)
	w.bytes(k[:])
}

func (w *accountWriter) optionI64(v *int64) {
	if v == nil {
		w.u8(0)
		w.i64(0)

		return
	}

	w.u8(1)
	w.i64(*v)
}

func (w *accountWriter) optionU64(v *uint64) {
	if v == nil {
		w.u8(0)
		w.u64(0)

		return
	}

	w.u8(1)
	w.u64(*v)
}

type accountReader struct {
	dec *bin.Decoder
	err error
}

func (r *accountReader) bytes(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}

	out, err := r.dec.ReadNBytes(n)
	if err != nil {
		r.err = err

		return make([]byte, n)
	}

	return out
}

func (r *accountReader) u8() uint8 {
	if r.err != nil {
		return 0
	}

	out, err := r.dec.ReadUint8()
	r.err = err

	return out
}

func (r *accountReader) u32() uint32 {
	if r.err != nil {
		return 0
	}

	out, err := r.dec.ReadUint32(binary.LittleEndian)
	r.err = err

	return out
}

func (r *accountReader) u64() uint64 {
	if r.err != nil {
		return 0
	}

	out, err := r.dec.ReadUint64(binary.LittleEndian)
	r.err = err

	return out
}

func (r *accountReader) i64() int64 {
	if r.err != nil {
		return 0
	}

	out, err := r.dec.ReadInt64(binary.LittleEndian)
	r.err = err

	return out
}

// present reads an option tag; anything but 0 or 1 poisons the reader.
func (r *accountReader) present() bool {
	tag := r.u8()
	if r.err == nil && tag > 1 {
		r.err = fmt.Errorf("%w: %d", ErrInvalidOptionTag, tag)
	}

	return tag == 1
}

func (r *accountReader) optionKey() *solana.PublicKey {
	present := r.present()
	raw := r.bytes(solana.PublicKeyLength)

	if !present || r.err != nil {
		return nil
	}

	key := solana.PublicKeyFromBytes(raw)

	return &key
}

func (r *accountReader) optionI64() *int64 {
	present := r.present()
	v := r.i64()

	if !present || r.err != nil {
		return nil
	}

	return &v
}

func (r *accountReader) optionU64() *uint64 {
	present := r.present()
	v := r.u64()

	if !present || r.err != nil {
		return nil
	}

	return &v
}
