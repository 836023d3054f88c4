package entities

// ApplicationEndpoint maps a user to their registered push endpoint.
type ApplicationEndpoint struct {
	UserId               string `dynamodbav:"UserId"`
	EndpointArn          string `dynamodbav:"EndpointArn"`
	NotificationsEnabled bool   `dynamodbav:"NotificationsEnabled"`
}
