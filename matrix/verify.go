// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package matrix

import (
	"context"
	"fmt"
	"strings"

	"maunium.net/go/mautrix/crypto/ssss"
	"maunium.net/go/mautrix/crypto/verificationhelper"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// verifier drives emoji verification against the user's other devices so
// this one gets cross-signed and can receive old room keys.
type verifier struct {
	m      *Matrix
	helper *verificationhelper.VerificationHelper
}

// The helper only registers the SAS callback when the concrete type
// satisfies both interfaces, so losing either is a silent failure.
var (
	_ verificationhelper.RequiredCallbacks = (*verifier)(nil)
	_ verificationhelper.ShowSASCallbacks  = (*verifier)(nil)
)

func newVerifier(ctx context.Context, m *Matrix) (*verifier, error) {
	v := &verifier{m: m}
	v.helper = verificationhelper.NewVerificationHelper(m.client, m.crypto.Machine(), nil, v, false, false)
	if err := v.helper.Init(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

// requestSelf starts verification with the user's other devices after a
// fresh login. Failure is not fatal, the session just stays unverified.
func (v *verifier) requestSelf(ctx context.Context) {
	_, err := v.helper.StartVerification(ctx, v.m.Me())
	if err != nil {
		v.m.log.Warn().Err(err).Msg("Failed to request device verification")
	}
}

// Recover imports cross-signing keys from secret storage using the
// account's recovery key or passphrase and cross-signs this device.
func (m *Matrix) Recover(input string) {
	m.task("Recovering", sendDelay, func(ctx context.Context) error {
		mach := m.crypto.Machine()
		keyID, keyData, err := mach.SSSS.GetDefaultKeyData(ctx)
		if err != nil {
			return fmt.Errorf("failed to get secret storage key data: %w", err)
		}
		var key *ssss.Key
		if keyData.Passphrase != nil {
			key, err = keyData.VerifyPassphrase(keyID, input)
		}
		if key == nil {
			key, err = keyData.VerifyRecoveryKey(keyID, strings.TrimSpace(input))
		}
		if err != nil {
			return err
		}
		if err = mach.FetchCrossSigningKeysFromSSSS(ctx, key); err != nil {
			return fmt.Errorf("failed to fetch cross-signing keys: %w", err)
		}
		if err = mach.SignOwnDevice(ctx, mach.OwnIdentity()); err != nil {
			return fmt.Errorf("failed to sign own device: %w", err)
		}
		if err = mach.SignOwnMasterKey(ctx); err != nil {
			return fmt.Errorf("failed to sign master key: %w", err)
		}
		m.send(Confirm{Header: "Recovered", Message: "This device is now cross-signed."})
		return nil
	})
}

func (v *verifier) confirm(ctx context.Context, txnID id.VerificationTransactionID) error {
	return v.helper.ConfirmSAS(ctx, txnID)
}

func (v *verifier) mismatch(ctx context.Context, txnID id.VerificationTransactionID) error {
	return v.helper.CancelVerification(ctx, txnID, event.VerificationCancelCodeSASMismatch, "emojis did not match")
}

// VerificationRequested auto-accepts incoming requests, the user decides
// at the emoji comparison step. The accept runs off the sync goroutine so
// the helper is free to process its own events.
func (v *verifier) VerificationRequested(ctx context.Context, txnID id.VerificationTransactionID, from id.UserID, fromDevice id.DeviceID) {
	v.m.rt.Go(func(ctx context.Context) {
		if err := v.helper.AcceptVerification(ctx, txnID); err != nil {
			v.m.log.Err(err).Stringer("txn_id", txnID).Msg("Failed to accept verification request")
		}
	})
}

// VerificationReady moves straight to SAS. The helper invokes this
// callback with its transaction lock held, so StartSAS has to run on its
// own goroutine.
func (v *verifier) VerificationReady(ctx context.Context, txnID id.VerificationTransactionID, otherDeviceID id.DeviceID, supportsSAS, supportsScanQRCode bool, qrCode *verificationhelper.QRCode) {
	if !supportsSAS {
		v.m.log.Warn().Stringer("txn_id", txnID).Msg("Other device does not support emoji verification")
		return
	}
	v.m.rt.Go(func(ctx context.Context) {
		if err := v.helper.StartSAS(ctx, txnID); err != nil {
			v.m.log.Warn().Err(err).Stringer("txn_id", txnID).Msg("Failed to start emoji verification")
		}
	})
}

// ShowSAS hands the emoji list to the UI for comparison.
func (v *verifier) ShowSAS(ctx context.Context, txnID id.VerificationTransactionID, emojis []rune, emojiDescriptions []string, decimals []int) {
	out := make([]string, len(emojis))
	for i, emoji := range emojis {
		out[i] = string(emoji)
	}
	v.m.send(VerificationStarted{TxnID: txnID, Emojis: out})
}

func (v *verifier) VerificationDone(ctx context.Context, txnID id.VerificationTransactionID) {
	v.m.send(VerificationCompleted{})
}

func (v *verifier) VerificationCancelled(ctx context.Context, txnID id.VerificationTransactionID, code event.VerificationCancelCode, reason string) {
	v.m.log.Warn().
		Stringer("txn_id", txnID).
		Str("code", string(code)).
		Str("reason", reason).
		Msg("Verification cancelled")
	v.m.send(Error{Message: "Verification cancelled: " + reason})
}
