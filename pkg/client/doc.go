// Package client is the Go SDK for the government services authority that
// backs DSSN login.
//
// The authority exposes two calls: open a challenge for a DSSN, and query a
// challenge's status. The citizen approves or denies the challenge in the
// Digital Liberia mobile app; this package never decides the outcome.
//
// # Opening a challenge
//
//	c, err := client.New(client.DefaultBaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	handle, err := c.OpenChallenge(ctx, client.OpenChallengeRequest{
//	    DSSN:      "123456789012345",
//	    Service:   "Digital Liberia Transportation System",
//	    PushToken: token, // optional
//	})
//
// handle.PushNotification reports whether the authority managed to push the
// request to the citizen's phone. It is advisory: polling works either way.
//
// # Checking status
//
//	st, err := c.ChallengeStatus(ctx, handle.ChallengeID)
//	switch st.Status {
//	case client.StatusApproved:
//	    // st.GovToken and st.Profile are populated
//	case client.StatusDenied:
//	}
//
// Repeated polling with a lifetime is implemented by internal/challenge; this
// package performs single requests only.
//
// # Errors
//
// OpenChallenge fails with *ChallengeRequestError and ChallengeStatus with
// *StatusError. Both carry a Message taken from the authority's response
// when one was provided, suitable for display.
package client
