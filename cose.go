package vouch

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/asn1"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

//COSEKey represents a key decoded from COSE format.
type COSEKey struct {
	Kty       int             `cbor:"1,keyasint,omitempty"`
	Kid       []byte          `cbor:"2,keyasint,omitempty"`
	Alg       int             `cbor:"3,keyasint,omitempty"`
	KeyOpts   int             `cbor:"4,keyasint,omitempty"`
	IV        []byte          `cbor:"5,keyasint,omitempty"`
	CrvOrNOrK cbor.RawMessage `cbor:"-1,keyasint,omitempty"` // K for symmetric keys, Crv for elliptic curve keys, N for RSA modulus
	XOrE      cbor.RawMessage `cbor:"-2,keyasint,omitempty"` // X for curve x-coordinate, E for RSA public exponent
	Y         cbor.RawMessage `cbor:"-3,keyasint,omitempty"` // Y for curve y-coordinate
	D         []byte          `cbor:"-4,keyasint,omitempty"`
}

//COSEAlgorithmIdentifier is a number identifying a cryptographic algorithm
type COSEAlgorithmIdentifier int

//enum values for COSEAlgorithmIdentifier type
const (
	AlgorithmRS1   COSEAlgorithmIdentifier = -65535
	AlgorithmRS512 COSEAlgorithmIdentifier = -259
	AlgorithmRS384 COSEAlgorithmIdentifier = -258
	AlgorithmRS256 COSEAlgorithmIdentifier = -257
	AlgorithmPS512 COSEAlgorithmIdentifier = -39
	AlgorithmPS384 COSEAlgorithmIdentifier = -38
	AlgorithmPS256 COSEAlgorithmIdentifier = -37
	AlgorithmES512 COSEAlgorithmIdentifier = -36
	AlgorithmES384 COSEAlgorithmIdentifier = -35
	AlgorithmEdDSA COSEAlgorithmIdentifier = -8
	AlgorithmES256 COSEAlgorithmIdentifier = -7
)

//COSEEllipticCurve is a number identifying an elliptic curve
type COSEEllipticCurve int

//enum values for COSEEllipticCurve type
const (
	CurveP256 COSEEllipticCurve = 1
	CurveP384 COSEEllipticCurve = 2
	CurveP521 COSEEllipticCurve = 3
)

//DecodePublicKey parses a crypto.PublicKey from a COSEKey
func DecodePublicKey(coseKey *COSEKey) (crypto.PublicKey, error) {
	var publicKey crypto.PublicKey

	switch COSEAlgorithmIdentifier(coseKey.Alg) {
	case AlgorithmES256,
		AlgorithmES384,
		AlgorithmES512:
		k, err := decodeECDSAPublicKey(coseKey)
		if err != nil {
			return nil, ErrDecodeCOSEKey.Wrap(err)
		}
		publicKey = k
	case AlgorithmRS1,
		AlgorithmRS512,
		AlgorithmRS384,
		AlgorithmRS256,
		AlgorithmPS512,
		AlgorithmPS384,
		AlgorithmPS256:
		k, err := decodeRSAPublicKey(coseKey)
		if err != nil {
			return nil, ErrDecodeCOSEKey.Wrap(err)
		}
		publicKey = k
	case AlgorithmEdDSA:
		k, err := decodeEd25519PublicKey(coseKey)
		if err != nil {
			return nil, ErrDecodeCOSEKey.Wrap(err)
		}
		publicKey = k
	default:
		return nil, ErrDecodeCOSEKey.Wrap(NewError("COSE algorithm ID %d not supported", coseKey.Alg))
	}

	return publicKey, nil
}

//VerifySignature verifies a signature over message using the provided
//COSEKey and its declared algorithm
func VerifySignature(coseKey *COSEKey, message, sig []byte) error {
	publicKey, err := DecodePublicKey(coseKey)
	if err != nil {
		return ErrSignatureInvalid.Wrap(err)
	}
	return VerifyKeySignature(publicKey, COSEAlgorithmIdentifier(coseKey.Alg), message, sig)
}

//VerifyKeySignature verifies a signature over message using an already
//decoded public key and a COSE algorithm identifier. It is shared by the
//assertion verifier and the attestation statement verifiers, which must
//check signatures made with certificate keys rather than credential keys.
func VerifyKeySignature(publicKey crypto.PublicKey, alg COSEAlgorithmIdentifier, message, sig []byte) error {
	switch alg {
	case AlgorithmES256,
		AlgorithmES384,
		AlgorithmES512:
		pk, ok := publicKey.(*ecdsa.PublicKey)
		if !ok {
			return ErrSignatureInvalid.Wrap(NewError("Invalid public key type for ECDSA algorithm"))
		}

		type ECDSASignature struct {
			R, S *big.Int
		}

		ecdsaSig := ECDSASignature{}
		if _, err := asn1.Unmarshal(sig, &ecdsaSig); err != nil {
			return ErrSignatureInvalid.Wrap(NewError("Unable to parse ECDSA signature").Wrap(err))
		}

		var msgHash []byte
		switch alg {
		case AlgorithmES256:
			h := sha256.Sum256(message)
			msgHash = h[:]
		case AlgorithmES384:
			h := sha512.Sum384(message)
			msgHash = h[:]
		case AlgorithmES512:
			h := sha512.Sum512(message)
			msgHash = h[:]
		}
		if ecdsa.Verify(pk, msgHash, ecdsaSig.R, ecdsaSig.S) {
			return nil
		}
		return ErrSignatureInvalid.Wrap(NewError("ECDSA signature verification failed"))

	case AlgorithmRS1,
		AlgorithmRS512,
		AlgorithmRS384,
		AlgorithmRS256,
		AlgorithmPS512,
		AlgorithmPS384,
		AlgorithmPS256:
		pk, ok := publicKey.(*rsa.PublicKey)
		if !ok {
			return ErrSignatureInvalid.Wrap(NewError("Invalid public key type for RSA algorithm"))
		}

		var c crypto.Hash
		switch alg {
		case AlgorithmRS512, AlgorithmPS512:
			c = crypto.SHA512
		case AlgorithmRS384, AlgorithmPS384:
			c = crypto.SHA384
		case AlgorithmRS256, AlgorithmPS256:
			c = crypto.SHA256
		case AlgorithmRS1:
			c = crypto.SHA1
		}

		h := c.New()
		h.Write(message)

		var err error
		switch alg {
		case AlgorithmRS512, AlgorithmRS384, AlgorithmRS256, AlgorithmRS1:
			err = rsa.VerifyPKCS1v15(pk, c, h.Sum(nil), sig)
		case AlgorithmPS512, AlgorithmPS384, AlgorithmPS256:
			err = rsa.VerifyPSS(pk, c, h.Sum(nil), sig, nil)
		}
		if err != nil {
			return ErrSignatureInvalid.Wrap(NewError("RSA signature verification failed").Wrap(err))
		}
		return nil

	case AlgorithmEdDSA:
		pk, ok := publicKey.(ed25519.PublicKey)
		if !ok {
			return ErrSignatureInvalid.Wrap(NewError("Invalid public key type for EdDSA algorithm"))
		}
		if ed25519.Verify(pk, message, sig) {
			return nil
		}
		return ErrSignatureInvalid.Wrap(NewError("EdDSA signature verification failed"))
	}

	return ErrSignatureInvalid.Wrap(NewError("COSE algorithm ID %d not supported", alg))
}

func decodeECDSAPublicKey(coseKey *COSEKey) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	var curveID int
	if err := cbor.Unmarshal(coseKey.CrvOrNOrK, &curveID); err != nil {
		return nil, NewError("Error decoding elliptic curve ID").Wrap(err)
	}

	switch COSEEllipticCurve(curveID) {
	case CurveP256:
		curve = elliptic.P256()
	case CurveP384:
		curve = elliptic.P384()
	case CurveP521:
		curve = elliptic.P521()
	default:
		return nil, NewError("COSE elliptic curve %d not supported", curveID)
	}

	var xBytes, yBytes []byte
	if err := cbor.Unmarshal(coseKey.XOrE, &xBytes); err != nil {
		return nil, NewError("Error decoding elliptic X parameter").Wrap(err)
	}
	if err := cbor.Unmarshal(coseKey.Y, &yBytes); err != nil {
		return nil, NewError("Error decoding elliptic Y parameter").Wrap(err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}

func decodeRSAPublicKey(coseKey *COSEKey) (*rsa.PublicKey, error) {
	var nBytes, eBytes []byte
	if err := cbor.Unmarshal(coseKey.CrvOrNOrK, &nBytes); err != nil {
		return nil, NewError("Error decoding RSA modulus").Wrap(err)
	}
	if err := cbor.Unmarshal(coseKey.XOrE, &eBytes); err != nil {
		return nil, NewError("Error decoding RSA exponent").Wrap(err)
	}
	if len(eBytes) > 4 {
		return nil, NewError("RSA exponent is %d bytes, expected at most 4", len(eBytes))
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

func decodeEd25519PublicKey(coseKey *COSEKey) (ed25519.PublicKey, error) {
	var kBytes []byte
	if err := cbor.Unmarshal(coseKey.CrvOrNOrK, &kBytes); err != nil {
		return nil, NewError("Error unmarshaling Ed25519 public key").Wrap(err)
	}
	if len(kBytes) != ed25519.PublicKeySize {
		return nil, NewError("Ed25519 public key is %d bytes, expected %d", len(kBytes), ed25519.PublicKeySize)
	}

	return ed25519.PublicKey(kBytes), nil
}
