package sync

import "context"

// LocalTransport connects a device engine to a hub in the same process by
// direct method calls. Tests and embedded single-binary deployments use it;
// networked deployments use the HTTP transport.
type LocalTransport struct {
	Hub *Hub
}

func (t LocalTransport) Handshake(ctx context.Context, req Handshake) (HandshakeAck, error) {
	return t.Hub.Handshake(ctx, req)
}

func (t LocalTransport) Upload(ctx context.Context, deviceID string, batch Upload) (UploadAck, error) {
	return t.Hub.Upload(ctx, deviceID, batch)
}

func (t LocalTransport) Download(ctx context.Context, deviceID string, limit int) (Download, error) {
	return t.Hub.Download(ctx, deviceID, limit)
}

func (t LocalTransport) AckDownload(ctx context.Context, deviceID string, ack DownloadAck) error {
	return t.Hub.AckDownload(ctx, deviceID, ack)
}
