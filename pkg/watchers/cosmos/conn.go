// Package cosmos watches a cosmwasm chain for withdraw approvals, serves
// deposit-log reads through contract smart queries, and submits cancellation
// transactions.
package cosmos

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	wasmdtypes "github.com/CosmWasm/wasmd/x/wasm/types"
	"github.com/btcsuite/btcutil/bech32"
	txclient "github.com/cosmos/cosmos-sdk/client/tx"
	"github.com/cosmos/cosmos-sdk/crypto"
	cryptotypes "github.com/cosmos/cosmos-sdk/crypto/types"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	sdktx "github.com/cosmos/cosmos-sdk/types/tx"
	"github.com/cosmos/cosmos-sdk/types/tx/signing"
	authsigning "github.com/cosmos/cosmos-sdk/x/auth/signing"
	auth "github.com/cosmos/cosmos-sdk/x/auth/types"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ClientConn is a connection to one cosmos chain's gRPC endpoint, carrying
// the canceler key. The account sequence number is guarded by the mutex so
// concurrent cancellations do not race each other.
type ClientConn struct {
	c             *grpc.ClientConn
	encCfg        encodingConfig
	privateKey    cryptotypes.PrivKey
	senderAddress string
	chainID       string
	mutex         sync.Mutex
}

// NewConn dials the gRPC endpoint at target. bech32Prefix is the chain's
// account prefix, chainID the cosmos chain id used for signing.
func NewConn(ctx context.Context, target string, privateKey cryptotypes.PrivKey, bech32Prefix, chainID string) (*ClientConn, error) {
	c, err := grpc.DialContext(
		ctx,
		target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, err
	}

	senderAddress, err := generateSenderAddress(privateKey, bech32Prefix)
	if err != nil {
		return nil, err
	}

	return &ClientConn{
		c:             c,
		encCfg:        makeEncodingConfig(),
		privateKey:    privateKey,
		senderAddress: senderAddress,
		chainID:       chainID,
	}, nil
}

// LoadPrivKey reads an armored cosmos private key. The key material is
// handed straight to the connection and never logged.
func LoadPrivKey(path string, passPhrase string) (cryptotypes.PrivKey, error) {
	armor, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, _, err := crypto.UnarmorDecryptPrivKey(string(armor), passPhrase)
	return key, err
}

func (c *ClientConn) SenderAddress() string {
	return c.senderAddress
}

func (c *ClientConn) Close() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.c.Close()
}

// SubmitQuery runs a smart query against a contract and returns the raw
// JSON response.
func (c *ClientConn) SubmitQuery(ctx context.Context, contractAddress string, query []byte) ([]byte, error) {
	req := wasmdtypes.QuerySmartContractStateRequest{Address: contractAddress, QueryData: query}
	qc := wasmdtypes.NewQueryClient(c.c)

	resp, err := qc.SmartContractState(ctx, &req)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// SignAndBroadcastTx signs msg with the canceler key and broadcasts it,
// waiting for block inclusion.
func (c *ClientConn) SignAndBroadcastTx(ctx context.Context, msg sdktypes.Msg) (*sdktx.BroadcastTxResponse, error) {
	// Lock to protect the wallet sequence number.
	c.mutex.Lock()
	defer c.mutex.Unlock()

	authClient := auth.NewQueryClient(c.c)
	resp, err := authClient.Account(ctx, &auth.QueryAccountRequest{Address: c.senderAddress})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}

	var account auth.AccountI
	if err := c.encCfg.InterfaceRegistry.UnpackAny(resp.Account, &account); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account info: %w", err)
	}

	builder := c.encCfg.TxConfig.NewTxBuilder()
	if err := builder.SetMsgs(msg); err != nil {
		return nil, fmt.Errorf("failed to add message to builder: %w", err)
	}
	builder.SetGasLimit(2000000)

	// The tx is signed in two passes: first populate the SignerInfo inside
	// the TxBuilder, then sign the payload.
	sequence := account.GetSequence()
	sig := signing.SignatureV2{
		PubKey: c.privateKey.PubKey(),
		Data: &signing.SingleSignatureData{
			SignMode:  c.encCfg.TxConfig.SignModeHandler().DefaultMode(),
			Signature: nil,
		},
		Sequence: sequence,
	}
	if err := builder.SetSignatures(sig); err != nil {
		return nil, fmt.Errorf("failed to set SignerInfo: %w", err)
	}

	signerData := authsigning.SignerData{
		ChainID:       c.chainID,
		AccountNumber: account.GetAccountNumber(),
		Sequence:      sequence,
	}

	sig, err = txclient.SignWithPrivKey(
		c.encCfg.TxConfig.SignModeHandler().DefaultMode(),
		signerData,
		builder,
		c.privateKey,
		c.encCfg.TxConfig,
		sequence,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to sign tx: %w", err)
	}
	if err := builder.SetSignatures(sig); err != nil {
		return nil, fmt.Errorf("failed to update tx signature: %w", err)
	}

	txBytes, err := c.encCfg.TxConfig.TxEncoder()(builder.GetTx())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tx: %w", err)
	}

	client := sdktx.NewServiceClient(c.c)
	txResp, err := client.BroadcastTx(
		ctx,
		&sdktx.BroadcastTxRequest{
			Mode:    sdktx.BroadcastMode_BROADCAST_MODE_SYNC,
			TxBytes: txBytes,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to broadcast tx: %w", err)
	}
	if txResp.TxResponse.Code != 0 {
		// Rejected at CheckTx; no point waiting for inclusion.
		return txResp, nil
	}

	res, err := waitForBlockInclusion(ctx, client, txResp.TxResponse.TxHash, 13*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for tx inclusion: %w", err)
	}
	txResp.TxResponse = res.TxResponse
	return txResp, nil
}

func waitForBlockInclusion(ctx context.Context, client sdktx.ServiceClient, txHash string, waitTimeout time.Duration) (*sdktx.GetTxResponse, error) {
	exitAfter := time.After(waitTimeout)
	for {
		select {
		case <-exitAfter:
			return nil, fmt.Errorf("timed out waiting for tx %s to be included in a block", txHash)
		case <-time.After(time.Second):
			res, err := client.GetTx(ctx, &sdktx.GetTxRequest{Hash: txHash})
			if err == nil {
				return res, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// generateSenderAddress derives the bech32 account address from the private
// key.
func generateSenderAddress(privateKey cryptotypes.PrivKey, prefix string) (string, error) {
	data, err := hex.DecodeString(privateKey.PubKey().Address().String())
	if err != nil {
		return "", fmt.Errorf("failed to hex decode address: %w", err)
	}

	conv, err := bech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("failed to convert address bits: %w", err)
	}

	encoded, err := bech32.Encode(prefix, conv)
	if err != nil {
		return "", fmt.Errorf("failed to bech32 encode address: %w", err)
	}
	return encoded, nil
}
