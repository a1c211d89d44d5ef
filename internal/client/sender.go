package client

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nickbublik/pingpong/internal/session"
	"github.com/nickbublik/pingpong/internal/wire"
)

// SendOptions parameterizes one advertise-and-send run.
type SendOptions struct {
	FilePath string
	Code     string
}

// SendFile advertises the file under the code phrase, waits for a receiver
// to claim it, streams the chunks and waits for the broker's confirmation.
func (c *Client) SendFile(opts SendOptions) error {
	log := logrus.WithField("component", "send-routine")

	info, err := os.Stat(opts.FilePath)
	if err != nil {
		return errors.Wrap(err, "stat file")
	}
	if info.IsDir() {
		return errors.Errorf("%s is a directory", opts.FilePath)
	}

	pre := wire.PreMetadata{
		PayloadType: wire.PayloadFile,
		CodePhrase:  wire.CodePhrase{Code: opts.Code},
		FileData: wire.FileData{
			FileSize: uint64(info.Size()),
			FileName: filepath.Base(opts.FilePath),
		},
	}
	advertise, err := wire.EncodePreMetadata(wire.MsgSend, pre)
	if err != nil {
		return err
	}
	if !c.Send(advertise) {
		return errors.New("broker connection refused the advertise")
	}

	fmt.Printf("Code: %s\n", opts.Code)
	log.WithFields(logrus.Fields{"file": pre.FileData.FileName, "size": pre.FileData.FileSize}).Info("waiting for a receiver")

	// The broker stays silent until a receiver claims the code; Reject
	// means the code is already taken, Accept is the start signal.
	var maxChunkSize uint64
	accepted := c.awaitReply(func(msg wire.Message) (bool, bool) {
		switch msg.ID {
		case wire.MsgReject:
			fmt.Println("Broker rejected the transfer (code already in use?)")
			return true, false
		case wire.MsgAccept:
			post, err := wire.DecodePostMetadata(&msg)
			if err != nil {
				return true, false
			}
			maxChunkSize = post.MaxChunkSize
			return true, true
		}
		return false, false
	})
	if !accepted {
		return errors.New("transfer was not accepted")
	}
	log.WithField("max_chunk_size", maxChunkSize).Info("receiver claimed the code, streaming")

	src, err := os.Open(opts.FilePath)
	if err != nil {
		// The broker expects chunks now; failing locally leaves the relay
		// to die with our disconnect.
		return errors.Wrap(err, "open file")
	}
	sess := session.NewSender(wire.PayloadFile, src, maxChunkSize, c.Incoming(), c.Send)
	if !sess.Run() {
		return errors.New("sending failed")
	}

	confirmed := c.awaitReply(func(msg wire.Message) (bool, bool) {
		switch msg.ID {
		case wire.MsgAbort:
			fmt.Println("Broker aborted the transfer")
			return true, false
		case wire.MsgSuccess:
			return true, true
		}
		return false, false
	})
	if !confirmed {
		return errors.New("transfer was not confirmed")
	}

	fmt.Println("Transfer confirmed")
	return nil
}
