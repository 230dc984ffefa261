package handler

//go:generate mockgen -source=handler.go -destination=../mocks/handler_mocks.go -package=mocks Service

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"eventlens/internal/attestation/geofence"
	"eventlens/internal/attestation/mocks"
	"eventlens/internal/attestation/models"
	dErrors "eventlens/pkg/domain-errors"
	"eventlens/pkg/testutil"
)

const wallet = "ZKLYCEWKDO64V6WCGGZZUI64JWTYN37YCR6E44VZQB3YLL7OJC53HXOGMM"

func newRouter(t *testing.T, maxImage int64) (*mocks.MockService, http.Handler) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	r := chi.NewRouter()
	New(svc, slog.New(slog.NewTextHandler(io.Discard, nil)), maxImage).Register(r)
	return svc, r
}

func form(extra map[string]string) map[string]string {
	f := map[string]string{
		"event_id":       "a1b2c3d4",
		"wallet_address": wallet,
		"student_name":   "Ada",
	}
	for k, v := range extra {
		f[k] = v
	}
	return f
}

func photo(data []byte) testutil.FormFile {
	return testutil.FormFile{Field: "image", Filename: "photo.png", Data: data}
}

func TestVerifyAttendance(t *testing.T) {
	testutil.Given(t, "a valid multipart form with coordinates", func(t *testing.T) {
		svc, router := newRouter(t, 1<<20)
		expires := time.Date(2026, 6, 1, 12, 10, 0, 0, time.UTC)

		testutil.When(t, "the attempt is eligible", func(t *testing.T) {
			svc.EXPECT().Verify(gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, in models.VerifyInput) (*models.VerifyResult, error) {
					assert.Equal(t, "a1b2c3d4", in.EventID)
					assert.Equal(t, wallet, in.Identity)
					assert.Equal(t, []byte("png-bytes"), in.Image)
					require.NotNil(t, in.Claimed)
					assert.InDelta(t, 52.52, in.Claimed.Lat, 1e-9)
					return &models.VerifyResult{
						Attempt: models.VerificationAttempt{
							Fingerprint: "abc",
							Composite:   88,
							Eligible:    true,
							Rationale:   "stage visible",
							Geo:         geofence.Evaluation{Result: geofence.Pass, DistanceKM: 0.1, RadiusKM: 2},
						},
						Token:     "signed",
						ExpiresAt: expires,
					}, nil
				})

			rr := testutil.DoRequest(router, testutil.NewMultipartRequest(t, "/verify-attendance",
				form(map[string]string{"latitude": "52.52", "longitude": "13.405"}), photo([]byte("png-bytes"))))

			testutil.Then(t, "the token and signals are returned", func(t *testing.T) {
				require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
				body := testutil.UnmarshalResponse[models.VerifyResponse](t, rr)
				assert.True(t, body.Success)
				assert.True(t, body.Eligible)
				assert.Equal(t, 88, body.Confidence)
				assert.Equal(t, "signed", body.VerifyToken)
				assert.Equal(t, "abc", body.ImageHash)
				assert.Equal(t, geofence.Pass, body.GeoCheck.Result)
				assert.Empty(t, body.Flags)
				require.NotNil(t, body.ExpiresAt)
				assert.True(t, expires.Equal(*body.ExpiresAt))
			})
		})

		testutil.When(t, "the attempt is not eligible", func(t *testing.T) {
			svc.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(&models.VerifyResult{
				Attempt: models.VerificationAttempt{Composite: 70, Rationale: "blurry"},
			}, nil)

			rr := testutil.DoRequest(router, testutil.NewMultipartRequest(t, "/verify-attendance", form(nil), photo([]byte("x"))))

			testutil.Then(t, "no token is returned", func(t *testing.T) {
				require.Equal(t, http.StatusOK, rr.Code)
				body := testutil.UnmarshalResponse[map[string]any](t, rr)
				assert.Equal(t, false, (*body)["eligible"])
				assert.Equal(t, "", (*body)["verify_token"])
				assert.NotContains(t, *body, "expires_at")
			})
		})
	})
}

func TestVerifyAttendanceErrors(t *testing.T) {
	testutil.Given(t, "the verify endpoint", func(t *testing.T) {
		svc, router := newRouter(t, 1024)

		testutil.When(t, "the image part is missing", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewMultipartRequest(t, "/verify-attendance", form(nil)))
			testutil.Then(t, "malformed input", func(t *testing.T) {
				testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "malformed_input")
			})
		})

		testutil.When(t, "only latitude is sent", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewMultipartRequest(t, "/verify-attendance",
				form(map[string]string{"latitude": "52.5"}), photo([]byte("x"))))
			testutil.Then(t, "malformed input", func(t *testing.T) {
				testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "malformed_input")
			})
		})

		testutil.When(t, "a coordinate is not a number", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewMultipartRequest(t, "/verify-attendance",
				form(map[string]string{"latitude": "north", "longitude": "13"}), photo([]byte("x"))))
			testutil.Then(t, "malformed input", func(t *testing.T) {
				testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "malformed_input")
			})
		})

		testutil.When(t, "the body exceeds the upload limit", func(t *testing.T) {
			big := make([]byte, 200<<10)
			rr := testutil.DoRequest(router, testutil.NewMultipartRequest(t, "/verify-attendance", form(nil), photo(big)))
			testutil.Then(t, "payload too large", func(t *testing.T) {
				testutil.AssertStatusAndError(t, rr, http.StatusRequestEntityTooLarge, "payload_too_large")
			})
		})

		testutil.When(t, "the body is not multipart", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/verify-attendance", map[string]string{}))
			testutil.Then(t, "malformed input", func(t *testing.T) {
				testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "malformed_input")
			})
		})

		cases := []struct {
			code   dErrors.Code
			status int
		}{
			{dErrors.CodeNotFound, http.StatusNotFound},
			{dErrors.CodeAlreadyClaimed, http.StatusConflict},
			{dErrors.CodeVisionUnavailable, http.StatusServiceUnavailable},
			{dErrors.CodeEventInactive, http.StatusForbidden},
			{dErrors.CodeCapacityExhausted, http.StatusGone},
		}
		for _, tc := range cases {
			testutil.When(t, "the service fails with "+string(tc.code), func(t *testing.T) {
				svc.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(nil, dErrors.New(tc.code, "nope"))
				rr := testutil.DoRequest(router, testutil.NewMultipartRequest(t, "/verify-attendance", form(nil), photo([]byte("x"))))
				testutil.Then(t, "the code maps to its status", func(t *testing.T) {
					testutil.AssertStatusAndError(t, rr, tc.status, string(tc.code))
				})
			})
		}
	})
}
