package socket

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/seinelabs/seine/pkg/context"
	"github.com/gobwas/httphead"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsflate"
	"github.com/gobwas/ws/wsutil"
)

// Conn is the minimal framed transport a socket drives. The production
// implementation is the gobwas websocket below; tests substitute fakes.
type Conn interface {
	WriteMessage(data []byte) error
	ReadMessage(c context.T, buf io.Writer) error
	Ping() error
	Close() error
}

// DialFunc opens a Conn to a relay URL.
type DialFunc func(c context.T, url string, requestHeader http.Header) (Conn, error)

// Wire is a websocket connection with permessage-deflate negotiation.
type Wire struct {
	conn              net.Conn
	enableCompression bool
	controlHandler    wsutil.FrameHandlerFunc
	flateReader       *wsflate.Reader
	reader            *wsutil.Reader
	flateWriter       *wsflate.Writer
	writer            *wsutil.Writer
	msgStateR         *wsflate.MessageState
	msgStateW         *wsflate.MessageState
}

var _ Conn = (*Wire)(nil)

// Dial is the default DialFunc.
func Dial(c context.T, url string, requestHeader http.Header) (Conn, error) {
	dialer := ws.Dialer{
		Header: ws.HandshakeHeaderHTTP(requestHeader),
		Extensions: []httphead.Option{
			wsflate.DefaultParameters.Option(),
		},
	}
	conn, _, hs, err := dialer.Dial(c, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	enableCompression := false
	state := ws.StateClientSide
	for _, extension := range hs.Extensions {
		if string(extension.Name) == wsflate.ExtensionName {
			enableCompression = true
			state |= ws.StateExtended
			break
		}
	}

	var flateReader *wsflate.Reader
	var msgStateR wsflate.MessageState
	if enableCompression {
		msgStateR.SetCompressed(true)
		flateReader = wsflate.NewReader(nil, func(r io.Reader) wsflate.Decompressor {
			return flate.NewReader(r)
		})
	}

	controlHandler := wsutil.ControlFrameHandler(conn, ws.StateClientSide)
	reader := &wsutil.Reader{
		Source:         conn,
		State:          state,
		OnIntermediate: controlHandler,
		CheckUTF8:      false,
		Extensions: []wsutil.RecvExtension{
			&msgStateR,
		},
	}

	var flateWriter *wsflate.Writer
	var msgStateW wsflate.MessageState
	if enableCompression {
		msgStateW.SetCompressed(true)
		flateWriter = wsflate.NewWriter(nil, func(w io.Writer) wsflate.Compressor {
			fw, err := flate.NewWriter(w, 4)
			if err != nil {
				log.E.F("failed to create flate writer: %v", err)
			}
			return fw
		})
	}

	writer := wsutil.NewWriter(conn, state, ws.OpText)
	writer.SetExtensions(&msgStateW)

	return &Wire{
		conn:              conn,
		enableCompression: enableCompression,
		controlHandler:    controlHandler,
		flateReader:       flateReader,
		reader:            reader,
		msgStateR:         &msgStateR,
		flateWriter:       flateWriter,
		writer:            writer,
		msgStateW:         &msgStateW,
	}, nil
}

func (w *Wire) WriteMessage(data []byte) error {
	if w.msgStateW.IsCompressed() && w.enableCompression {
		w.flateWriter.Reset(w.writer)
		if _, err := io.Copy(w.flateWriter, bytes.NewReader(data)); err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}
		if err := w.flateWriter.Close(); err != nil {
			return fmt.Errorf("failed to close flate writer: %w", err)
		}
	} else {
		if _, err := io.Copy(w.writer, bytes.NewReader(data)); err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

func (w *Wire) ReadMessage(c context.T, buf io.Writer) error {
	for {
		select {
		case <-c.Done():
			return context.Canceled
		default:
		}

		h, err := w.reader.NextFrame()
		if err != nil {
			w.conn.Close()
			return fmt.Errorf("failed to advance frame: %w", err)
		}
		if h.OpCode.IsControl() {
			if err := w.controlHandler(h, w.reader); err != nil {
				return fmt.Errorf("failed to handle control frame: %w", err)
			}
		} else if h.OpCode == ws.OpBinary || h.OpCode == ws.OpText {
			break
		}
		if err := w.reader.Discard(); err != nil {
			return fmt.Errorf("failed to discard: %w", err)
		}
	}

	if w.msgStateR.IsCompressed() && w.enableCompression {
		w.flateReader.Reset(w.reader)
		if _, err := io.Copy(buf, w.flateReader); err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}
	} else {
		if _, err := io.Copy(buf, w.reader); err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}
	}
	return nil
}

func (w *Wire) Ping() error {
	return wsutil.WriteClientMessage(w.conn, ws.OpPing, nil)
}

func (w *Wire) Close() error {
	return w.conn.Close()
}
