package client

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nickbublik/pingpong/internal/session"
	"github.com/nickbublik/pingpong/internal/wire"
)

// ReceiveOptions parameterizes one claim-and-receive run.
type ReceiveOptions struct {
	Code string

	// OutputPath overrides the advertised file name as the local target.
	OutputPath string

	// AssumeYes skips the interactive accept prompt.
	AssumeYes bool

	// Prompt reads the accept decision. Defaults to stdin.
	Prompt io.Reader
}

// ReceiveFile claims a code phrase, confirms the offer with the user and
// receives the chunks into a local file.
func (c *Client) ReceiveFile(opts ReceiveOptions) error {
	log := logrus.WithField("component", "receive-routine")

	pre := wire.PreMetadata{
		PayloadType: wire.PayloadFile,
		CodePhrase:  wire.CodePhrase{Code: opts.Code},
	}
	request, err := wire.EncodePreMetadata(wire.MsgRequestReceive, pre)
	if err != nil {
		return err
	}
	if !c.Send(request) {
		return errors.New("broker connection refused the request")
	}

	var offer wire.PostMetadata
	accepted := c.awaitReply(func(msg wire.Message) (bool, bool) {
		switch msg.ID {
		case wire.MsgReject:
			fmt.Println("Broker does not know this code phrase")
			return true, false
		case wire.MsgAccept:
			post, err := wire.DecodePostMetadata(&msg)
			if err != nil {
				return true, false
			}
			offer = post
			return true, true
		}
		return false, false
	})
	if !accepted {
		return errors.New("request was rejected")
	}

	if !opts.AssumeYes {
		if !confirmOffer(offer, opts.Prompt) {
			fmt.Println("Skipping the transfer")
			return errors.New("transfer declined")
		}
	}

	claim, err := wire.EncodeCodePhrase(wire.MsgReceive, wire.CodePhrase{Code: opts.Code})
	if err != nil {
		return err
	}
	if !c.Send(claim) {
		return errors.New("broker connection refused the claim")
	}

	outPath := opts.OutputPath
	if outPath == "" {
		outPath = offer.FileData.FileName
	}
	log.WithFields(logrus.Fields{"file": offer.FileData.FileName, "size": offer.FileData.FileSize, "out": outPath}).Info("receiving")

	sess := session.NewReceiver(wire.PayloadFile, func() (io.WriteCloser, error) {
		return os.Create(outPath)
	}, c.Incoming(), c.Send)
	if !sess.Run() {
		return errors.New("receiving failed")
	}

	// Confirm the clean finish and make sure it leaves the socket before
	// we hang up.
	c.Send(wire.Message{ID: wire.MsgFinishReceive})
	c.Flush()

	fmt.Printf("Received %s (%d bytes)\n", outPath, offer.FileData.FileSize)
	return nil
}

func confirmOffer(offer wire.PostMetadata, prompt io.Reader) bool {
	if prompt == nil {
		prompt = os.Stdin
	}
	fmt.Printf("Accept incoming file %q of size %d? [y/N] ", offer.FileData.FileName, offer.FileData.FileSize)
	line, err := bufio.NewReader(prompt).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
