package attest

// Translation is the text pair a certificate speaks about.
type Translation struct {
	SourceText string `json:"src_text"`
	TargetText string `json:"tgt_text"`
	SourceLang string `json:"src_lang"`
	TargetLang string `json:"tgt_lang"`
}

// Certificate is the record handed back to callers after attestation. The
// proof token travels as "proof" on the wire.
type Certificate struct {
	CertificateID string `json:"certificate_id" mapstructure:"certificate_id"`
	ProofToken    string `json:"proof" mapstructure:"proof"`
	Hash          string `json:"hash" mapstructure:"hash"`
	Timestamp     int64  `json:"timestamp" mapstructure:"timestamp"`
	Model         string `json:"model" mapstructure:"model"`
	Version       string `json:"version" mapstructure:"version"`
}

type Outcome string

const (
	OutcomeVerified          Outcome = "verified"
	OutcomeHashMismatch      Outcome = "hash_mismatch"
	OutcomeSignatureMismatch Outcome = "signature_mismatch"
	OutcomeMalformed         Outcome = "malformed_certificate"
	OutcomeExpired           Outcome = "expired"
)

const (
	MessageVerified          = "Verification Successful"
	MessageHashMismatch      = "Text has been modified (Hash mismatch)"
	MessageSignatureMismatch = "Invalid Certificate (Signature mismatch)"
	MessageExpired           = "Certificate expired"

	reasonMissingFields = "hash and proof are required"
	reasonInvalidFields = "hash, timestamp and proof must be present and well formed"
	reasonUnencodable   = "translation cannot be encoded"
)

// Result is the answer to a verification request. Verification never fails
// with an error; every rejection is reported here.
type Result struct {
	Success bool    `json:"success"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"message"`
	// Detail explains a malformed certificate for operators. It is kept out
	// of Reason, which is shown to callers.
	Detail string `json:"-"`
}

func verified() Result {
	return Result{Success: true, Outcome: OutcomeVerified, Reason: MessageVerified}
}

func rejected(outcome Outcome, reason string) Result {
	return Result{Outcome: outcome, Reason: reason}
}

func malformed(reason string, cause error) Result {
	res := rejected(OutcomeMalformed, "Malformed certificate: "+reason)
	if cause != nil {
		res.Detail = cause.Error()
	}
	return res
}
