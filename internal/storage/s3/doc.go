/*
Package s3 implements the levelfs key-value store on top of an S3 bucket.

Each stored key becomes one object. Object names are the bucket prefix
followed by the lowercase hex encoding of the raw key bytes, so that:

  - the reserved 0xFF namespace separator survives as "ff"
  - lexicographic order of object names equals byte order of raw keys
  - a raw key prefix maps to an object name prefix (whole hex digit pairs)

Prefix scans use ListObjectsV2 with Prefix and StartAfter, which lets the
directory synthesizer skip whole child namespaces with a single request.

# Usage

	cfg := s3.NewDefaultConfig()
	if err := cfg.ParseURI("s3://my-bucket/levelfs"); err != nil {
		return err
	}
	store, err := s3.Open(ctx, cfg)

Credentials come from the static keys in Config when set, otherwise from the
default AWS credential chain. Endpoint and ForcePathStyle allow MinIO and
other S3-compatible services.

# Errors

NoSuchKey and NotFound responses are reported as types.ErrKeyNotFound.
Throttling and 5xx responses are marked retryable by IsRetryable; the
backend adapter retries them within its operation deadline.
*/
package s3
