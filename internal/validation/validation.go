package validation

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"

	"chainpay/internal/models"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

var evmTxHash = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)

// ValidateAddress checks address against the address format of chain's family
func ValidateAddress(address string, chain models.Chain) error {
	if address == "" {
		return errors.New("address cannot be empty")
	}

	switch p := chain.Params.(type) {
	case *models.EVMParams:
		if !common.IsHexAddress(address) {
			return fmt.Errorf("invalid %s address format", chain.Name)
		}
	case *models.UTXOParams:
		net := p.Net
		if net == nil {
			net = &chaincfg.MainNetParams
		}
		addr, err := btcutil.DecodeAddress(address, net)
		if err != nil {
			return fmt.Errorf("invalid %s address: %v", chain.Name, err)
		}
		if !addr.IsForNet(net) {
			return fmt.Errorf("%s address is for another network", chain.Name)
		}
	case *models.AccountParams:
		if _, err := solana.PublicKeyFromBase58(address); err != nil {
			return fmt.Errorf("invalid %s address: %v", chain.Name, err)
		}
	default:
		return fmt.Errorf("%w: %s", models.ErrUnknownChain, chain.Name)
	}
	return nil
}

// ValidateTxHash validates transaction hash format
func ValidateTxHash(txHash string, chain models.Chain) error {
	if txHash == "" {
		return errors.New("transaction hash cannot be empty")
	}

	switch chain.Params.(type) {
	case *models.EVMParams:
		if !evmTxHash.MatchString(txHash) {
			return fmt.Errorf("invalid %s transaction hash", chain.Name)
		}
	case *models.UTXOParams:
		if _, err := chainhash.NewHashFromStr(txHash); err != nil || len(txHash) != chainhash.MaxHashStringSize {
			return fmt.Errorf("invalid %s transaction hash", chain.Name)
		}
	case *models.AccountParams:
		if _, err := solana.SignatureFromBase58(txHash); err != nil {
			return fmt.Errorf("invalid %s transaction signature: %v", chain.Name, err)
		}
	default:
		return fmt.Errorf("%w: %s", models.ErrUnknownChain, chain.Name)
	}
	return nil
}

// ValidateAmount validates amount is positive
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.New("amount must be positive")
	}
	return nil
}

// ValidateTransfer checks the parts of a transfer request that do not need
// chain access. Chain family support is decided by the broadcaster.
func ValidateTransfer(req models.TransferRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("validation failed: %v", err)
	}
	if req.Token != nil && !common.IsHexAddress(req.Token.Contract) {
		return fmt.Errorf("invalid token contract %q", req.Token.Contract)
	}
	if !req.Sweep {
		return ValidateAmount(req.Amount)
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(raw string) error {
	if raw == "" {
		return errors.New("URL cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid URL format: %q", raw)
	}
	return nil
}
