package transfer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"time"
)

type (
	// Deposit is the append-only record a source chain creates when a user
	// moves funds into the bridge. The amount is already normalized to the
	// destination chain's decimals; the withdraw side must never
	// re-normalize it. Deposits are never mutated or deleted.
	Deposit struct {
		DestChain   ChainID
		DestToken   Address
		SrcAccount  Address
		DestAccount Address
		Amount      *big.Int
		Nonce       uint64
	}

	// PendingWithdraw is the destination-chain record created when the
	// operator approves a withdrawal, opening the cancellation window.
	PendingWithdraw struct {
		SrcChain    ChainID
		Token       Address
		SrcAccount  Address
		DestAccount Address
		Amount      *big.Int
		Nonce       uint64

		ApprovedAt   time.Time
		CancelWindow time.Duration
		Cancelled    bool
		Executed     bool
	}
)

// Digest returns the identity the source chain files this deposit under.
func (d *Deposit) Digest() Digest {
	return DepositDigest(d.DestChain, d.DestToken, d.SrcAccount, d.DestAccount, d.Amount, d.Nonce)
}

// Digest returns the identity the destination chain files this record under.
func (p *PendingWithdraw) Digest() Digest {
	return WithdrawDigest(p.SrcChain, p.Token, p.SrcAccount, p.DestAccount, p.Amount, p.Nonce)
}

// ExecutableAt is the first instant at which Withdraw may succeed.
func (p *PendingWithdraw) ExecutableAt() time.Time {
	return p.ApprovedAt.Add(p.CancelWindow)
}

const depositLength = 4 + 32 + 32 + 32 + 32 + 8

func (d *Deposit) Marshal() ([]byte, error) {
	if err := ValidateAmount(d.Amount); err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	mustWrite(buf, uint32(d.DestChain))
	buf.Write(d.DestToken[:])
	buf.Write(d.SrcAccount[:])
	buf.Write(d.DestAccount[:])

	var amt [32]byte
	d.Amount.FillBytes(amt[:])
	buf.Write(amt[:])
	mustWrite(buf, d.Nonce)

	return buf.Bytes(), nil
}

func UnmarshalDeposit(data []byte) (*Deposit, error) {
	if len(data) != depositLength {
		return nil, fmt.Errorf("invalid deposit length: %d", len(data))
	}

	d := &Deposit{}
	reader := bytes.NewReader(data)

	var chain uint32
	if err := binary.Read(reader, binary.BigEndian, &chain); err != nil {
		return nil, fmt.Errorf("failed to read dest chain: %w", err)
	}
	d.DestChain = ChainID(chain)

	if err := readAddress(reader, &d.DestToken); err != nil {
		return nil, fmt.Errorf("failed to read dest token: %w", err)
	}
	if err := readAddress(reader, &d.SrcAccount); err != nil {
		return nil, fmt.Errorf("failed to read src account: %w", err)
	}
	if err := readAddress(reader, &d.DestAccount); err != nil {
		return nil, fmt.Errorf("failed to read dest account: %w", err)
	}

	amt := [32]byte{}
	if n, err := reader.Read(amt[:]); err != nil || n != 32 {
		return nil, fmt.Errorf("failed to read amount [%d]: %w", n, err)
	}
	d.Amount = new(big.Int).SetBytes(amt[:])

	if err := binary.Read(reader, binary.BigEndian, &d.Nonce); err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}

	return d, nil
}

const pendingWithdrawLength = 4 + 32 + 32 + 32 + 32 + 8 + 8 + 8 + 1 + 1

func (p *PendingWithdraw) Marshal() ([]byte, error) {
	if err := ValidateAmount(p.Amount); err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	mustWrite(buf, uint32(p.SrcChain))
	buf.Write(p.Token[:])
	buf.Write(p.SrcAccount[:])
	buf.Write(p.DestAccount[:])

	var amt [32]byte
	p.Amount.FillBytes(amt[:])
	buf.Write(amt[:])
	mustWrite(buf, p.Nonce)

	mustWrite(buf, p.ApprovedAt.Unix())
	mustWrite(buf, int64(p.CancelWindow/time.Second))
	mustWrite(buf, p.Cancelled)
	mustWrite(buf, p.Executed)

	return buf.Bytes(), nil
}

func UnmarshalPendingWithdraw(data []byte) (*PendingWithdraw, error) {
	if len(data) != pendingWithdrawLength {
		return nil, fmt.Errorf("invalid pending withdraw length: %d", len(data))
	}

	p := &PendingWithdraw{}
	reader := bytes.NewReader(data)

	var chain uint32
	if err := binary.Read(reader, binary.BigEndian, &chain); err != nil {
		return nil, fmt.Errorf("failed to read src chain: %w", err)
	}
	p.SrcChain = ChainID(chain)

	if err := readAddress(reader, &p.Token); err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}
	if err := readAddress(reader, &p.SrcAccount); err != nil {
		return nil, fmt.Errorf("failed to read src account: %w", err)
	}
	if err := readAddress(reader, &p.DestAccount); err != nil {
		return nil, fmt.Errorf("failed to read dest account: %w", err)
	}

	amt := [32]byte{}
	if n, err := reader.Read(amt[:]); err != nil || n != 32 {
		return nil, fmt.Errorf("failed to read amount [%d]: %w", n, err)
	}
	p.Amount = new(big.Int).SetBytes(amt[:])

	if err := binary.Read(reader, binary.BigEndian, &p.Nonce); err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}

	var approvedAt int64
	if err := binary.Read(reader, binary.BigEndian, &approvedAt); err != nil {
		return nil, fmt.Errorf("failed to read approval time: %w", err)
	}
	p.ApprovedAt = time.Unix(approvedAt, 0)

	var windowSeconds int64
	if err := binary.Read(reader, binary.BigEndian, &windowSeconds); err != nil {
		return nil, fmt.Errorf("failed to read cancel window: %w", err)
	}
	p.CancelWindow = time.Duration(windowSeconds) * time.Second

	if err := binary.Read(reader, binary.BigEndian, &p.Cancelled); err != nil {
		return nil, fmt.Errorf("failed to read cancelled flag: %w", err)
	}
	if err := binary.Read(reader, binary.BigEndian, &p.Executed); err != nil {
		return nil, fmt.Errorf("failed to read executed flag: %w", err)
	}

	return p, nil
}

func readAddress(reader *bytes.Reader, a *Address) error {
	if n, err := reader.Read(a[:]); err != nil || n != 32 {
		return fmt.Errorf("short read [%d]: %w", n, err)
	}
	return nil
}

// mustWrite writes big-endian to an in-memory buffer, which cannot fail.
func mustWrite(buf *bytes.Buffer, data interface{}) {
	if err := binary.Write(buf, binary.BigEndian, data); err != nil {
		panic(fmt.Errorf("failed to write binary data: %v", data).Error())
	}
}
